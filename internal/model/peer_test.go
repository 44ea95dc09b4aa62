package model

import (
	"slices"
	"testing"
	"time"
)

func TestAppSyncConfig_Normalize(t *testing.T) {
	cfg := AppSyncConfig{
		AppID:          "chat",
		IgnorePatterns: []string{" *.tmp", "", "cache/**", "*.tmp"},
	}

	got := cfg.Normalize()
	want := []string{"*.tmp", "cache/**"}
	if !slices.Equal(got.IgnorePatterns, want) {
		t.Errorf("IgnorePatterns = %v, want %v", got.IgnorePatterns, want)
	}
	if got.Style != StyleSendReceive {
		t.Errorf("empty style should default to send-receive, got %q", got.Style)
	}
}

func TestAppSyncConfig_Validate(t *testing.T) {
	tests := map[string]struct {
		cfg     AppSyncConfig
		wantErr bool
	}{
		"valid":         {cfg: AppSyncConfig{AppID: "places", Style: StyleReceiveOnly}},
		"unknown app":   {cfg: AppSyncConfig{AppID: "games", Style: StyleSendReceive}, wantErr: true},
		"invalid style": {cfg: AppSyncConfig{AppID: "chat", Style: "both-ways"}, wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAppSyncConfig_Active(t *testing.T) {
	if (AppSyncConfig{Enabled: true, Style: StylePaused}).Active() {
		t.Error("paused app should not be active")
	}
	if (AppSyncConfig{Enabled: false, Style: StyleSendReceive}).Active() {
		t.Error("disabled app should not be active")
	}
	if !(AppSyncConfig{Enabled: true, Style: StyleSendOnly}).Active() {
		t.Error("enabled send-only app should be active")
	}
}

func TestPeer_EnabledApps(t *testing.T) {
	p := Peer{
		ID: "p1",
		Apps: map[string]AppSyncConfig{
			"places": {AppID: "places", Enabled: true, Style: StyleSendReceive},
			"blog":   {AppID: "blog", Enabled: true, Style: StyleReceiveOnly},
			"chat":   {AppID: "chat", Enabled: true, Style: StylePaused},
			"news":   {AppID: "news", Enabled: false, Style: StyleSendReceive},
		},
	}

	got := p.EnabledApps()
	want := []string{"blog", "places"}
	if !slices.Equal(got, want) {
		t.Errorf("EnabledApps() = %v, want %v", got, want)
	}
}

func TestPeer_CloneIsDeep(t *testing.T) {
	now := time.Now()
	p := Peer{
		ID:         "p1",
		Addresses:  []string{"http://a:3456"},
		LastSyncAt: &now,
		Apps: map[string]AppSyncConfig{
			"chat": {AppID: "chat", IgnorePatterns: []string{"*.tmp"}},
		},
	}

	c := p.Clone()
	c.Addresses[0] = "changed"
	cfg := c.Apps["chat"]
	cfg.IgnorePatterns[0] = "changed"
	*c.LastSyncAt = now.Add(time.Hour)

	if p.Addresses[0] != "http://a:3456" {
		t.Error("clone shares Addresses with original")
	}
	if p.Apps["chat"].IgnorePatterns[0] != "*.tmp" {
		t.Error("clone shares IgnorePatterns with original")
	}
	if !p.LastSyncAt.Equal(now) {
		t.Error("clone shares LastSyncAt with original")
	}
}

func TestPeer_DisplayName(t *testing.T) {
	if got := (Peer{ID: "id", Callsign: "X1AB"}).DisplayName(); got != "X1AB" {
		t.Errorf("DisplayName() = %q, want X1AB", got)
	}
	if got := (Peer{ID: "id"}).DisplayName(); got != "id" {
		t.Errorf("DisplayName() = %q, want id", got)
	}
}

func TestPeer_AppConfigDefault(t *testing.T) {
	cfg := (Peer{}).AppConfig("chat")
	if cfg.Enabled || cfg.Style != StyleSendReceive || cfg.AppID != "chat" {
		t.Errorf("unexpected default config: %+v", cfg)
	}
}
