package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/geogram-dev/geomirror/internal/auth"
	"github.com/geogram-dev/geomirror/internal/cache"
	"github.com/geogram-dev/geomirror/internal/ignore"
	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/manifest"
	"github.com/geogram-dev/geomirror/internal/model"
	"github.com/geogram-dev/geomirror/internal/peerclient"
	"github.com/geogram-dev/geomirror/internal/registry"
)

// ClientFactory builds the transport for a peer.
type ClientFactory func(peer model.Peer) (Transport, error)

// NewClientFactory returns a factory producing signed peerclient clients.
func NewClientFactory(callsign string, signer auth.Signer, timeout time.Duration) ClientFactory {
	return func(peer model.Peer) (Transport, error) {
		return peerclient.New(peer.Addresses, peerclient.Options{
			Callsign: callsign,
			Signer:   signer,
			Timeout:  timeout,
		})
	}
}

// Config configures an Engine.
type Config struct {
	// DataDir holds one folder per callsign, each with one folder per app.
	DataDir string
	// Callsign is the local profile's callsign, used for peers without one.
	Callsign string
	// CacheDir stores hash caches; empty disables persistence of hashes.
	CacheDir string
	// ProgressInterval bounds byte progress updates.
	ProgressInterval time.Duration
	// Versions keeps replaced and deleted local files; nil disables it.
	Versions Versioner
}

// Engine runs sync sessions. At most one session per (peer, app) pair and
// per local folder runs at a time.
type Engine struct {
	reg       *registry.Registry
	newClient ClientFactory
	cfg       Config
	locks     sessionLocks
	now       func() time.Time
}

// NewEngine constructs an engine.
func NewEngine(reg *registry.Registry, newClient ClientFactory, cfg Config) *Engine {
	return &Engine{
		reg:       reg,
		newClient: newClient,
		cfg:       cfg,
		locks:     sessionLocks{held: make(map[string]struct{})},
		now:       time.Now,
	}
}

// AppDir returns the local folder mirrored with the peer for appID.
func (e *Engine) AppDir(peer model.Peer, appID string) (string, error) {
	callsign := peer.Callsign
	if callsign == "" {
		callsign = e.cfg.Callsign
	}
	if !manifest.ValidPath(callsign) || strings.Contains(callsign, "/") {
		return "", fmt.Errorf("invalid callsign %q", callsign)
	}
	if !model.IsKnownApp(appID) {
		return "", fmt.Errorf("unknown app %q", appID)
	}
	return filepath.Join(e.cfg.DataDir, callsign, appID), nil
}

// SyncFolder mirrors one app folder with one peer and returns when the session ends.
//
// When updates is non-nil, Status values are sent on it during the session.
// Intermediate values are dropped if the receiver is not ready. The terminal
// value is always sent and updates is closed afterwards, so the caller must
// keep receiving until the channel is closed.
func (e *Engine) SyncFolder(ctx context.Context, peerID, appID string, updates chan<- Status) (Result, error) {
	start := e.now()
	rep := newReporter(peerID, appID, updates, e.cfg.ProgressInterval)
	log := logging.With(logging.Peer(peerID), logging.App(appID))

	key := peerID + "\x00" + appID
	if !e.locks.tryAcquire(key) {
		err := fmt.Errorf("%w: %s/%s", ErrSessionInProgress, peerID, appID)
		rep.finish(err)
		return Result{PeerID: peerID, AppID: appID, Err: err}, err
	}
	defer e.locks.release(key)

	counts, err := e.run(ctx, peerID, appID, rep)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	final := rep.finish(err)

	result := Result{
		PeerID:           peerID,
		AppID:            appID,
		Success:          err == nil,
		FilesAdded:       counts.Added,
		FilesModified:    counts.Modified,
		FilesUploaded:    counts.Uploaded,
		FilesDeleted:     counts.Deleted,
		Skipped:          counts.Skipped,
		BytesTransferred: counts.Bytes,
		Failures:         counts.Failures,
		Err:              err,
		Duration:         e.now().Sub(start),
	}

	if err != nil {
		log.Warn("sync session failed", logging.State(final.State.String()), logging.Err(err))
		return result, err
	}
	if markErr := e.reg.MarkPeerSynced(peerID); markErr != nil {
		log.Warn("failed to record sync time", logging.Err(markErr))
	}
	log.Info("sync session finished",
		logging.Count(result.Changed()),
		logging.Bytes(result.BytesTransferred),
		logging.Duration(result.Duration),
		"errors", result.Errors(),
	)
	return result, nil
}

func (e *Engine) run(ctx context.Context, peerID, appID string, rep *reporter) (Counts, error) {
	rep.transition(StateRequesting)

	peer, ok := e.reg.Get(peerID)
	if !ok {
		return Counts{}, fmt.Errorf("%w: %s", registry.ErrPeerNotFound, peerID)
	}
	cfg := peer.AppConfig(appID)
	if !cfg.Active() {
		return Counts{}, fmt.Errorf("%w: %s for %s", ErrAppInactive, appID, peer.DisplayName())
	}
	matcher, err := ignore.Compile(cfg.IgnorePatterns)
	if err != nil {
		return Counts{}, err
	}
	root, err := e.AppDir(peer, appID)
	if err != nil {
		return Counts{}, err
	}
	// Peers sharing a callsign share a folder.
	if !e.locks.tryAcquire(root) {
		return Counts{}, fmt.Errorf("%w: %s is in use by another session", ErrSessionInProgress, root)
	}
	defer e.locks.release(root)
	transport, err := e.newClient(peer)
	if err != nil {
		return Counts{}, err
	}
	if err := ctx.Err(); err != nil {
		return Counts{}, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	rep.transition(StateFetchingManifest)
	remote, err := transport.FetchManifest(ctx, appID)
	if err != nil {
		return Counts{}, err
	}
	local, err := manifest.Scan(root, e.hashCache(peer, appID))
	if err != nil {
		return Counts{}, err
	}

	actions := ComputeActions(local, remote, cfg.Style, matcher)
	plan := Summarize(actions)
	logging.Debug("computed sync plan",
		logging.Peer(peerID),
		logging.App(appID),
		"downloads", plan.Downloads,
		"uploads", plan.Uploads,
		"skips", plan.Skips,
	)

	rep.plan(plan.Work(), plan.Bytes)
	rep.transition(StateSyncing)
	exec := &Executor{
		Root:      root,
		AppID:     appID,
		Transport: transport,
		Versions:  e.cfg.Versions,
		Scope:     filepath.Base(filepath.Dir(root)) + "/" + appID,
	}
	return exec.Execute(ctx, actions, rep)
}

func (e *Engine) hashCache(peer model.Peer, appID string) *cache.Cache {
	if e.cfg.CacheDir == "" {
		return cache.Memory()
	}
	c, err := cache.New(e.cacheName(peer, appID), e.cfg.CacheDir)
	if err != nil {
		logging.Warn("hash cache unavailable", logging.App(appID), logging.Err(err))
		return cache.Memory()
	}
	return c
}

func (e *Engine) cacheName(peer model.Peer, appID string) string {
	name := peer.Callsign
	if name == "" {
		name = e.cfg.Callsign
	}
	return name + "-" + appID
}

// ForgetHashes removes the persisted hash caches of every app mirrored with peer.
func (e *Engine) ForgetHashes(peer model.Peer) error {
	if e.cfg.CacheDir == "" {
		return nil
	}
	for _, appID := range model.KnownApps {
		c, err := cache.New(e.cacheName(peer, appID), e.cfg.CacheDir)
		if err != nil {
			return err
		}
		n := c.Size()
		if err := c.Clear(); err != nil {
			return fmt.Errorf("failed to clear hash cache for %s: %w", appID, err)
		}
		if n > 0 {
			logging.Debug("hash cache cleared", logging.Peer(peer.ID), logging.App(appID), logging.Count(n))
		}
	}
	return nil
}

// Session is a SyncFolder call running in the background.
type Session struct {
	updates chan Status
	done    chan struct{}
	result  Result
	err     error
}

// Start runs SyncFolder in a goroutine.
func (e *Engine) Start(ctx context.Context, peerID, appID string) *Session {
	s := &Session{
		updates: make(chan Status, 16),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		s.result, s.err = e.SyncFolder(ctx, peerID, appID, s.updates)
	}()
	return s
}

// Updates returns the status stream. It is closed after the terminal status.
func (s *Session) Updates() <-chan Status {
	return s.updates
}

// Wait drains any unread updates and returns the session result.
func (s *Session) Wait() (Result, error) {
	for range s.updates {
	}
	<-s.done
	return s.result, s.err
}

// sessionLocks is a set of held keys: (peer, app) pairs and local folders.
type sessionLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func (l *sessionLocks) tryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *sessionLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
