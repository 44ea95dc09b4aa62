// Package scheduler sweeps every paired peer and enabled app, once or on an
// interval, and probes peers for reachability.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/geogram-dev/geomirror/internal/auth"
	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/model"
	"github.com/geogram-dev/geomirror/internal/peerclient"
	"github.com/geogram-dev/geomirror/internal/registry"
	"github.com/geogram-dev/geomirror/internal/sync"
)

// Syncer runs one folder session. *sync.Engine implements it.
type Syncer interface {
	SyncFolder(ctx context.Context, peerID, appID string, updates chan<- sync.Status) (sync.Result, error)
}

// ProbeFunc checks whether a peer answers on any of its addresses.
type ProbeFunc func(ctx context.Context, peer model.Peer) error

// NewProber returns a ProbeFunc that pings the peer's health endpoint.
func NewProber(callsign string, signer auth.Signer, timeout time.Duration) ProbeFunc {
	return func(ctx context.Context, peer model.Peer) error {
		client, err := peerclient.New(peer.Addresses, peerclient.Options{
			Callsign: callsign,
			Signer:   signer,
			Timeout:  timeout,
		})
		if err != nil {
			return err
		}
		_, err = client.Ping(ctx)
		return err
	}
}

// Options configures a Scheduler.
type Options struct {
	// ParallelPeers is how many peers sync at once. Apps of one peer run in order.
	ParallelPeers int
	// Interval between sweeps in Run.
	Interval time.Duration
	// WatchDir triggers a sweep when files under it change. Empty disables watching.
	WatchDir string
	// Debounce coalesces bursts of filesystem events.
	Debounce time.Duration
	// OnSweep receives the totals of each sweep in Run.
	OnSweep func(Sweep)
}

// Selection narrows a sweep. Empty fields select everything.
type Selection struct {
	PeerID string
	AppID  string
	// OnlineOnly skips peers whose last probe failed.
	OnlineOnly bool
}

// Sweep is the outcome of syncing a set of peers.
type Sweep struct {
	Results []sync.Result
	Totals  sync.Totals
}

// Scheduler runs sync sweeps over the registry.
type Scheduler struct {
	reg    *registry.Registry
	syncer Syncer
	probe  ProbeFunc
	opts   Options

	sweepMu gosync.Mutex
	watch   atomic.Pointer[watcher]
}

// New creates a scheduler. probe may be nil to skip reachability checks.
func New(reg *registry.Registry, syncer Syncer, probe ProbeFunc, opts Options) *Scheduler {
	if opts.ParallelPeers < 1 {
		opts.ParallelPeers = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	return &Scheduler{reg: reg, syncer: syncer, probe: probe, opts: opts}
}

// Sweep syncs every selected (peer, app) pair. Status values of all sessions
// are forwarded to updates when it is non-nil; Sweep does not close it.
// Per-session errors are recorded in the results and never abort the sweep.
func (s *Scheduler) Sweep(ctx context.Context, sel Selection, updates chan<- sync.Status) (Sweep, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if w := s.watch.Load(); w != nil {
		w.sweepStarted()
		defer w.sweepEnded()
	}

	peers, err := s.selectPeers(sel)
	if err != nil {
		return Sweep{}, err
	}

	defer logging.Timer("sweep")()

	var (
		mu      gosync.Mutex
		results []sync.Result
		wg      gosync.WaitGroup
		slots   = make(chan struct{}, s.opts.ParallelPeers)
	)
	for _, peer := range peers {
		if sel.OnlineOnly && !peer.IsOnline {
			continue
		}
		apps := s.reg.GetEnabledAppsForPeer(peer.ID)
		if sel.AppID != "" {
			apps = filterApp(apps, sel.AppID)
		}
		if len(apps) == 0 {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-slots }()

			for _, appID := range apps {
				if ctx.Err() != nil {
					return
				}
				r := s.syncOne(ctx, peer.ID, appID, updates)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	var sweep Sweep
	sweep.Results = results
	for _, r := range results {
		sweep.Totals.Add(r)
	}
	logging.Info("sweep finished",
		logging.Count(sweep.Totals.Sessions),
		logging.Bytes(sweep.Totals.BytesTransferred),
		"summary", sweep.Totals.Summary(),
	)
	if err := ctx.Err(); err != nil {
		return sweep, fmt.Errorf("%w: %w", sync.ErrCancelled, err)
	}
	return sweep, nil
}

func (s *Scheduler) selectPeers(sel Selection) ([]model.Peer, error) {
	if sel.PeerID == "" {
		return s.reg.List(), nil
	}
	peer, ok := s.reg.Lookup(sel.PeerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrPeerNotFound, sel.PeerID)
	}
	return []model.Peer{peer}, nil
}

func filterApp(apps []string, appID string) []string {
	for _, a := range apps {
		if a == appID {
			return []string{a}
		}
	}
	return nil
}

// syncOne runs one session, relaying its statuses to updates.
func (s *Scheduler) syncOne(ctx context.Context, peerID, appID string, updates chan<- sync.Status) sync.Result {
	if updates == nil {
		r, _ := s.syncer.SyncFolder(ctx, peerID, appID, nil)
		return r
	}

	session := make(chan sync.Status, 8)
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		for st := range session {
			if st.State.IsTerminal() {
				// Terminal statuses are never dropped.
				updates <- st
				continue
			}
			select {
			case updates <- st:
			default:
			}
		}
	}()

	r, _ := s.syncer.SyncFolder(ctx, peerID, appID, session)
	<-relayed
	return r
}

// ProbeAll checks every peer and records the outcome in the registry.
// It returns the number of peers that answered.
func (s *Scheduler) ProbeAll(ctx context.Context) (int, error) {
	if s.probe == nil {
		return 0, nil
	}
	peers := s.reg.List()
	var (
		wg     gosync.WaitGroup
		mu     gosync.Mutex
		online int
		errs   []error
		slots  = make(chan struct{}, max(s.opts.ParallelPeers, 4))
	)
	for _, peer := range peers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()

			up := s.probe(ctx, peer) == nil
			if err := s.reg.MarkPeerSeen(peer.ID, up); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			if up {
				mu.Lock()
				online++
				mu.Unlock()
			}
			logging.Debug("probed peer", logging.Peer(peer.ID), "online", up)
		}()
	}
	wg.Wait()
	return online, errors.Join(errs...)
}

// Run probes and sweeps immediately, then again on every interval tick and
// after filesystem changes under WatchDir settle. It returns when ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	triggers := make(chan struct{}, 1)
	if s.opts.WatchDir != "" {
		w, err := newWatcher(s.opts.WatchDir, s.opts.Debounce, func() {
			select {
			case triggers <- struct{}{}:
			default:
			}
		})
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()
		s.watch.Store(w)
		defer s.watch.Store(nil)
		go w.loop(ctx)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.cycle(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.cycle(ctx, "interval")
		case <-triggers:
			s.cycle(ctx, "filesystem")
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context, reason string) {
	if _, err := s.ProbeAll(ctx); err != nil {
		logging.Warn("failed to record peer reachability", logging.Err(err))
	}
	sel := Selection{OnlineOnly: s.probe != nil}
	sweep, err := s.Sweep(ctx, sel, nil)
	if err != nil {
		if ctx.Err() == nil {
			logging.Warn("sweep failed", logging.Operation(reason), logging.Err(err))
		}
		return
	}
	logging.Debug("sweep triggered", logging.Operation(reason))
	if s.opts.OnSweep != nil {
		s.opts.OnSweep(sweep)
	}
}
