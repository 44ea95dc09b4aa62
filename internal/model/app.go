package model

import (
	"fmt"
	"slices"
	"strings"
)

// KnownApps lists the app folders that can be mirrored, in display order.
var KnownApps = []string{
	"blog",
	"chat",
	"contacts",
	"events",
	"news",
	"places",
	"postcards",
	"alerts",
	"groups",
	"market",
	"inventory",
	"wallet",
	"log",
	"backup",
}

// IsKnownApp returns true if appID names a mirrorable app folder.
func IsKnownApp(appID string) bool {
	return slices.Contains(KnownApps, appID)
}

// AppOrder returns the position of appID in KnownApps, or len(KnownApps) if unknown.
func AppOrder(appID string) int {
	if i := slices.Index(KnownApps, appID); i >= 0 {
		return i
	}
	return len(KnownApps)
}

// AppSyncConfig is the per-(peer, app) sync policy.
type AppSyncConfig struct {
	AppID          string    `json:"appId" yaml:"app_id"`
	Enabled        bool      `json:"enabled" yaml:"enabled"`
	Style          SyncStyle `json:"style" yaml:"style"`
	IgnorePatterns []string  `json:"ignorePatterns,omitempty" yaml:"ignore_patterns,omitempty"`
}

// DefaultAppSyncConfig returns a disabled send-receive config for appID.
func DefaultAppSyncConfig(appID string) AppSyncConfig {
	return AppSyncConfig{
		AppID: appID,
		Style: StyleSendReceive,
	}
}

// Active reports whether the app takes part in sync sessions.
func (c AppSyncConfig) Active() bool {
	return c.Enabled && c.Style != StylePaused
}

// Normalize trims patterns and removes duplicates while keeping their order.
func (c AppSyncConfig) Normalize() AppSyncConfig {
	out := c
	out.IgnorePatterns = nil
	seen := make(map[string]bool, len(c.IgnorePatterns))
	for _, p := range c.IgnorePatterns {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out.IgnorePatterns = append(out.IgnorePatterns, p)
	}
	if out.Style == "" {
		out.Style = StyleSendReceive
	}
	return out
}

// Validate checks the app id and style.
func (c AppSyncConfig) Validate() error {
	if !IsKnownApp(c.AppID) {
		return fmt.Errorf("unknown app %q", c.AppID)
	}
	if !c.Style.IsValid() {
		return fmt.Errorf("invalid sync style %q for app %q", c.Style, c.AppID)
	}
	return nil
}

// Clone returns a deep copy.
func (c AppSyncConfig) Clone() AppSyncConfig {
	out := c
	out.IgnorePatterns = slices.Clone(c.IgnorePatterns)
	return out
}
