package peerclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// watchdog cancels a transfer's context when its body makes no progress for
// timeout. The timer is armed by the first read, so dialing and failover are
// left to the transport's own timeouts.
type watchdog struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timeout time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func newWatchdog(parent context.Context, timeout time.Duration) *watchdog {
	ctx, cancel := context.WithCancelCause(parent)
	return &watchdog{ctx: ctx, cancel: cancel, timeout: timeout}
}

func (w *watchdog) kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		w.timer = time.AfterFunc(w.timeout, w.fire)
		return
	}
	w.timer.Reset(w.timeout)
}

func (w *watchdog) pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) fire() {
	w.cancel(fmt.Errorf("%w: no data for %s", ErrUnreachablePeer, w.timeout))
}

// stop releases the context. Call it once the transfer is over.
func (w *watchdog) stop() {
	w.pause()
	w.cancel(nil)
}

// stalled returns the idle error once the watchdog fired, nil otherwise.
func (w *watchdog) stalled() error {
	if cause := context.Cause(w.ctx); cause != nil && errors.Is(cause, ErrUnreachablePeer) {
		return cause
	}
	return nil
}

// watchedBody feeds every read to a watchdog.
type watchedBody struct {
	rc io.ReadCloser
	w  *watchdog
	// release runs on Close; downloads end the request there.
	release func()
}

func (b *watchedBody) Read(p []byte) (int, error) {
	b.w.kick()
	n, err := b.rc.Read(p)
	switch {
	case err == io.EOF:
		b.w.pause()
	case err != nil:
		if idle := b.w.stalled(); idle != nil {
			err = idle
		}
	case n > 0:
		b.w.kick()
	}
	return n, err
}

func (b *watchedBody) Close() error {
	err := b.rc.Close()
	b.release()
	return err
}
