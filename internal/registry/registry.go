// Package registry tracks paired peers and their per-app sync configuration.
//
// The registry keeps a committed snapshot in memory and writes the whole
// snapshot to its Store on every mutation. A mutation only becomes visible once
// the store write succeeded; on failure the previous snapshot stays in place.
package registry

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geogram-dev/geomirror/internal/ignore"
	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/model"
)

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	store Store
	peers map[string]model.Peer
	now   func() time.Time
}

// Open loads the registry from store.
func Open(store Store) (*Registry, error) {
	peers, err := store.Load()
	if err != nil {
		return nil, err
	}
	logging.Debug("registry loaded", logging.Count(len(peers)))
	return &Registry{
		store: store,
		peers: peers,
		now:   time.Now,
	}, nil
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}

// Get returns a copy of the peer.
func (r *Registry) Get(id string) (model.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if !ok {
		return model.Peer{}, false
	}
	return p.Clone(), true
}

// List returns copies of all peers sorted by display name, then id.
func (r *Registry) List() []model.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b model.Peer) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.DisplayName()), strings.ToLower(b.DisplayName())),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out
}

// Lookup resolves a peer by id, then by case-insensitive callsign or name.
func (r *Registry) Lookup(ref string) (model.Peer, bool) {
	if p, ok := r.Get(ref); ok {
		return p, true
	}
	if p, ok := r.FindByCallsign(ref); ok {
		return p, true
	}
	for _, p := range r.List() {
		if strings.EqualFold(p.Name, ref) {
			return p, true
		}
	}
	return model.Peer{}, false
}

// FindByCallsign returns the first peer with the callsign, compared case-insensitively.
func (r *Registry) FindByCallsign(callsign string) (model.Peer, bool) {
	for _, p := range r.List() {
		if callsign != "" && strings.EqualFold(p.Callsign, callsign) {
			return p, true
		}
	}
	return model.Peer{}, false
}

// FindByPublicKey returns the peer that signs with the hex public key.
func (r *Registry) FindByPublicKey(pub string) (model.Peer, bool) {
	for _, p := range r.List() {
		if pub != "" && strings.EqualFold(p.PublicKey, pub) {
			return p, true
		}
	}
	return model.Peer{}, false
}

// GetEnabledAppsForPeer returns the active apps of the peer in known-app order.
// Unknown peers have none.
func (r *Registry) GetEnabledAppsForPeer(id string) []string {
	p, ok := r.Get(id)
	if !ok {
		return nil
	}
	return p.EnabledApps()
}

// AddPeer registers a new peer, generating an id when empty.
func (r *Registry) AddPeer(p model.Peer) (model.Peer, error) {
	p = p.Clone()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for id, cfg := range p.Apps {
		cfg.AppID = id
		p.Apps[id] = cfg.Normalize()
	}
	if err := validatePeer(p); err != nil {
		return model.Peer{}, err
	}
	if p.PairedAt.IsZero() {
		p.PairedAt = r.now().UTC()
	}

	err := r.mutate("add", func(peers map[string]model.Peer) error {
		if _, exists := peers[p.ID]; exists {
			return fmt.Errorf("%w: %s", ErrPeerExists, p.ID)
		}
		peers[p.ID] = p.Clone()
		return nil
	})
	if err != nil {
		return model.Peer{}, err
	}
	logging.Info("peer added", logging.Peer(p.ID), "callsign", p.Callsign)
	return p.Clone(), nil
}

// RemovePeer unpairs a peer.
func (r *Registry) RemovePeer(id string) error {
	err := r.mutate("remove", func(peers map[string]model.Peer) error {
		if _, ok := peers[id]; !ok {
			return fmt.Errorf("%w: %s", ErrPeerNotFound, id)
		}
		delete(peers, id)
		return nil
	})
	if err == nil {
		logging.Info("peer removed", logging.Peer(id))
	}
	return err
}

// UpdatePeer replaces the stored peer with p.
func (r *Registry) UpdatePeer(p model.Peer) error {
	if err := validatePeer(p); err != nil {
		return err
	}
	return r.mutate("update", func(peers map[string]model.Peer) error {
		if _, ok := peers[p.ID]; !ok {
			return fmt.Errorf("%w: %s", ErrPeerNotFound, p.ID)
		}
		peers[p.ID] = p.Clone()
		return nil
	})
}

// UpdatePeerAppConfig sets the sync policy of one app for a peer.
func (r *Registry) UpdatePeerAppConfig(id, appID string, cfg model.AppSyncConfig) error {
	cfg.AppID = appID
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := ignore.Validate(cfg.IgnorePatterns); err != nil {
		return err
	}
	return r.mutate("update app config", func(peers map[string]model.Peer) error {
		p, ok := peers[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrPeerNotFound, id)
		}
		if p.Apps == nil {
			p.Apps = make(map[string]model.AppSyncConfig)
		}
		p.Apps[appID] = cfg.Clone()
		peers[id] = p
		return nil
	})
}

// MarkPeerSynced records a completed sync with the peer.
func (r *Registry) MarkPeerSynced(id string) error {
	now := r.now().UTC()
	return r.mutate("mark synced", func(peers map[string]model.Peer) error {
		p, ok := peers[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrPeerNotFound, id)
		}
		p.LastSyncAt = &now
		p.LastSeenAt = &now
		p.IsOnline = true
		peers[id] = p
		return nil
	})
}

// MarkPeerSeen records the outcome of a reachability probe.
func (r *Registry) MarkPeerSeen(id string, online bool) error {
	now := r.now().UTC()
	return r.mutate("mark seen", func(peers map[string]model.Peer) error {
		p, ok := peers[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrPeerNotFound, id)
		}
		p.IsOnline = online
		if online {
			p.LastSeenAt = &now
		}
		peers[id] = p
		return nil
	})
}

// mutate applies fn to a copy of the snapshot, persists it, then commits it.
func (r *Registry) mutate(op string, fn func(peers map[string]model.Peer) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := clonePeers(r.peers)
	if err := fn(next); err != nil {
		return err
	}
	if err := r.store.Save(next); err != nil {
		logging.Error("registry write failed", logging.Operation(op), logging.Err(err))
		return &PersistenceError{Op: op, Err: err}
	}
	r.peers = next
	return nil
}

func validatePeer(p model.Peer) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("peer id cannot be empty")
	}
	if strings.TrimSpace(p.Callsign) == "" && len(p.Addresses) == 0 {
		return fmt.Errorf("peer %s needs a callsign or an address", p.ID)
	}
	for appID, cfg := range p.Apps {
		cfg.AppID = appID
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}
