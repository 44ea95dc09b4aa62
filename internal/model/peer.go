// Package model provides the peer, app and sync style types shared by geomirror packages.
package model

import (
	"maps"
	"slices"
	"time"
)

// Peer is another device paired for mirroring.
type Peer struct {
	ID        string   `json:"peerId"`
	Name      string   `json:"name"`
	Platform  string   `json:"platform,omitempty"`
	Callsign  string   `json:"callsign"`
	Addresses []string `json:"addresses"`
	// PublicKey is the hex ed25519 key the peer signs its requests with.
	PublicKey  string                   `json:"publicKey,omitempty"`
	IsOnline   bool                     `json:"isOnline"`
	PairedAt   time.Time                `json:"pairedAt"`
	LastSyncAt *time.Time               `json:"lastSyncAt,omitempty"`
	LastSeenAt *time.Time               `json:"lastSeenAt,omitempty"`
	Apps       map[string]AppSyncConfig `json:"apps,omitempty"`
}

// Clone returns a deep copy so callers never share maps or slices with the registry.
func (p Peer) Clone() Peer {
	out := p
	out.Addresses = slices.Clone(p.Addresses)
	if p.LastSyncAt != nil {
		t := *p.LastSyncAt
		out.LastSyncAt = &t
	}
	if p.LastSeenAt != nil {
		t := *p.LastSeenAt
		out.LastSeenAt = &t
	}
	if p.Apps != nil {
		out.Apps = make(map[string]AppSyncConfig, len(p.Apps))
		for k, v := range p.Apps {
			out.Apps[k] = v.Clone()
		}
	}
	return out
}

// AppConfig returns the config for appID, or a disabled default.
func (p Peer) AppConfig(appID string) AppSyncConfig {
	if cfg, ok := p.Apps[appID]; ok {
		return cfg
	}
	return DefaultAppSyncConfig(appID)
}

// EnabledApps returns the active app ids in KnownApps order.
func (p Peer) EnabledApps() []string {
	var apps []string
	for _, id := range slices.Sorted(maps.Keys(p.Apps)) {
		if p.Apps[id].Active() {
			apps = append(apps, id)
		}
	}
	slices.SortStableFunc(apps, func(a, b string) int {
		return AppOrder(a) - AppOrder(b)
	})
	return apps
}

// DisplayName returns the name, falling back to callsign then id.
func (p Peer) DisplayName() string {
	switch {
	case p.Name != "":
		return p.Name
	case p.Callsign != "":
		return p.Callsign
	default:
		return p.ID
	}
}
