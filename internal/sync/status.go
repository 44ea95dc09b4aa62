package sync

import (
	"sync"
	"time"
)

// State is the phase of a sync session.
type State string

const (
	StateIdle             State = "idle"
	StateRequesting       State = "requesting"
	StateFetchingManifest State = "fetching_manifest"
	StateSyncing          State = "syncing"
	StateDone             State = "done"
	StateError            State = "error"
)

// IsTerminal reports whether no transition can leave the state.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateError
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Status is a snapshot of a running session.
type Status struct {
	PeerID           string
	AppID            string
	State            State
	CurrentFile      string
	FilesProcessed   int
	TotalFiles       int
	BytesTransferred int64
	TotalBytes       int64
	Err              error
}

// Percent returns progress in [0, 100], by bytes when known, else by files.
func (s Status) Percent() int {
	switch {
	case s.State == StateDone:
		return 100
	case s.TotalBytes > 0:
		return int(min(s.BytesTransferred*100/s.TotalBytes, 100))
	case s.TotalFiles > 0:
		return min(s.FilesProcessed*100/s.TotalFiles, 100)
	default:
		return 0
	}
}

// DefaultProgressInterval bounds how often byte progress is reported.
const DefaultProgressInterval = 250 * time.Millisecond

// reporter owns the Status of one session and streams it to updates.
// Intermediate sends never block. The terminal send blocks until received.
type reporter struct {
	mu       sync.Mutex
	status   Status
	updates  chan<- Status
	interval time.Duration
	lastEmit time.Time
	now      func() time.Time
	finished bool
}

func newReporter(peerID, appID string, updates chan<- Status, interval time.Duration) *reporter {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &reporter{
		status:   Status{PeerID: peerID, AppID: appID, State: StateIdle},
		updates:  updates,
		interval: interval,
		now:      time.Now,
	}
}

// snapshot returns the current status.
func (r *reporter) snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// transition moves to a non-terminal state. Transitions after a terminal state are ignored.
func (r *reporter) transition(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished || r.status.State.IsTerminal() {
		return
	}
	r.status.State = state
	r.status.CurrentFile = ""
	r.emitLocked()
}

// plan sets the totals for the syncing phase.
func (r *reporter) plan(files int, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.TotalFiles = files
	r.status.TotalBytes = bytes
}

func (r *reporter) startFile(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.CurrentFile = path
	r.emitLocked()
}

func (r *reporter) addBytes(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.BytesTransferred += n
	if r.now().Sub(r.lastEmit) >= r.interval {
		r.emitLocked()
	}
}

// dropBytes takes back bytes of an abandoned attempt.
func (r *reporter) dropBytes(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.BytesTransferred -= n
}

func (r *reporter) fileDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.FilesProcessed++
	r.emitLocked()
}

// finish enters done or error, delivers the terminal status and closes updates.
func (r *reporter) finish(err error) Status {
	r.mu.Lock()
	if r.finished {
		st := r.status
		r.mu.Unlock()
		return st
	}
	r.finished = true
	if err != nil {
		r.status.State = StateError
		r.status.Err = err
	} else {
		r.status.State = StateDone
	}
	r.status.CurrentFile = ""
	st := r.status
	r.mu.Unlock()

	if r.updates != nil {
		r.updates <- st
		close(r.updates)
	}
	return st
}

func (r *reporter) emitLocked() {
	r.lastEmit = r.now()
	if r.updates == nil {
		return
	}
	select {
	case r.updates <- r.status:
	default:
	}
}
