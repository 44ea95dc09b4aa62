package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/geogram-dev/geomirror/internal/backup"
	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/manifest"
	"github.com/geogram-dev/geomirror/internal/peerclient"
	"github.com/geogram-dev/geomirror/internal/util"
)

// Transport is the remote side of a session. *peerclient.Client implements it.
type Transport interface {
	FetchManifest(ctx context.Context, appID string) (manifest.Manifest, error)
	Download(ctx context.Context, appID, path string) (io.ReadCloser, peerclient.RemoteFile, error)
	Upload(ctx context.Context, appID string, entry manifest.Entry, open func() (io.ReadCloser, error)) error
	Delete(ctx context.Context, appID, path string) error
}

// Counts are the per-session totals of executed actions.
type Counts struct {
	Added    int
	Modified int
	Uploaded int
	Deleted  int
	Skipped  int
	Bytes    int64
	Failures []*TransferError
}

// Versioner keeps a copy of a local file before a sync replaces or deletes
// it. *backup.Store implements it.
type Versioner interface {
	Save(scope, rel, src, reason string) (backup.Metadata, error)
}

// Executor applies actions to one app folder.
type Executor struct {
	// Root is the local app folder. Nothing outside it is written or removed.
	Root      string
	AppID     string
	Transport Transport

	// Versions, when set, receives the previous content of replaced and
	// deleted files under Scope ("<callsign>/<app>").
	Versions Versioner
	Scope    string
}

// Execute runs actions in order. Per-file failures are recorded and the loop
// continues. Cancellation is checked before every action; a cancelled run
// returns the counts so far and an error matching ErrCancelled.
func (e *Executor) Execute(ctx context.Context, actions []Action, rep *reporter) (Counts, error) {
	var c Counts
	for _, a := range actions {
		if a.Kind == ActionSkip {
			c.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return c, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		rep.startFile(a.Path)
		n, err := e.apply(ctx, a, rep)
		c.Bytes += n
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return c, fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
			}
			terr := &TransferError{Kind: a.Kind, Path: a.Path, Err: err}
			c.Failures = append(c.Failures, terr)
			logging.Warn("file action failed",
				logging.App(e.AppID),
				logging.Path(a.Path),
				logging.Operation(string(a.Kind)),
				logging.Err(err),
			)
			rep.fileDone()
			continue
		}

		switch a.Kind {
		case ActionDownload:
			if a.Replaces {
				c.Modified++
			} else {
				c.Added++
			}
		case ActionUpload:
			c.Uploaded++
		case ActionDeleteLocal, ActionDeleteRemote:
			c.Deleted++
		}
		logging.Debug("file action applied",
			logging.App(e.AppID),
			logging.Path(a.Path),
			logging.Operation(string(a.Kind)),
			logging.Bytes(n),
		)
		rep.fileDone()
	}
	return c, nil
}

func (e *Executor) apply(ctx context.Context, a Action, rep *reporter) (int64, error) {
	switch a.Kind {
	case ActionDownload:
		return e.download(ctx, a, rep)
	case ActionUpload:
		return e.upload(ctx, a, rep)
	case ActionDeleteLocal:
		return 0, e.deleteLocal(a.Path)
	case ActionDeleteRemote:
		return 0, e.Transport.Delete(ctx, e.AppID, a.Path)
	default:
		return 0, fmt.Errorf("unknown action %q", a.Kind)
	}
}

// download streams the remote file into a temp file, checks it against the
// manifest entry, stamps the remote mtime and renames it into place.
func (e *Executor) download(ctx context.Context, a Action, rep *reporter) (int64, error) {
	dest, err := util.ScopedPath(e.Root, a.Path)
	if err != nil {
		return 0, err
	}

	body, info, err := e.Transport.Download(ctx, e.AppID, a.Path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	want := a.Entry
	if info.Hash != "" && info.Hash != want.Hash {
		return 0, fmt.Errorf("peer file changed since manifest (hash %s, manifest %s)", short(info.Hash), short(want.Hash))
	}
	modTime := want.ModifiedAt
	if modTime.IsZero() {
		modTime = info.ModifiedAt
	}

	h := sha256.New()
	src := io.TeeReader(&countingReader{r: body, rep: rep}, h)
	return util.WriteAtomic(dest, src, 0o644, func(tmpPath string) error {
		if err := verifyDownload(tmpPath, want, h, modTime); err != nil {
			return err
		}
		return e.keepVersion(a.Path, dest, backup.ReasonReplaced)
	})
}

func verifyDownload(tmpPath string, want manifest.Entry, h hash.Hash, modTime time.Time) error {
	fi, err := os.Stat(tmpPath)
	if err != nil {
		return err
	}
	if fi.Size() != want.Size {
		return fmt.Errorf("size mismatch: got %d bytes, want %d", fi.Size(), want.Size)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want.Hash {
		return fmt.Errorf("hash mismatch: got %s, want %s", short(got), short(want.Hash))
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(tmpPath, modTime, modTime); err != nil {
			return fmt.Errorf("failed to set modification time: %w", err)
		}
	}
	return nil
}

func (e *Executor) upload(ctx context.Context, a Action, rep *reporter) (int64, error) {
	src, err := util.ScopedPath(e.Root, a.Path)
	if err != nil {
		return 0, err
	}
	// The transport opens the file again for every address it tries; only
	// the bytes of the last attempt count.
	var attempt *countingReader
	open := func() (io.ReadCloser, error) {
		if attempt != nil {
			rep.dropBytes(attempt.retire())
		}
		// #nosec G304 - src is scoped to the app folder
		f, err := os.Open(src)
		if err != nil {
			return nil, err
		}
		attempt = &countingReader{r: f, closer: f, rep: rep}
		return attempt, nil
	}
	err = e.Transport.Upload(ctx, e.AppID, a.Entry, open)
	var sent int64
	if attempt != nil {
		sent = attempt.count()
	}
	return sent, err
}

func (e *Executor) deleteLocal(rel string) error {
	p, err := util.ScopedPath(e.Root, rel)
	if err != nil {
		return err
	}
	if err := e.keepVersion(rel, p, backup.ReasonDeleted); err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// keepVersion saves the current content of p. A missing file has nothing to
// keep. A failed save aborts the action so the old content is never lost.
func (e *Executor) keepVersion(rel, p, reason string) error {
	if e.Versions == nil {
		return nil
	}
	if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if _, err := e.Versions.Save(e.Scope, rel, p, reason); err != nil {
		return fmt.Errorf("failed to keep previous version: %w", err)
	}
	return nil
}

// countingReader reports bytes read to the session reporter until retired.
type countingReader struct {
	r      io.Reader
	closer io.Closer
	rep    *reporter

	mu      sync.Mutex
	n       int64
	retired bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.mu.Lock()
		if !c.retired {
			c.n += int64(n)
			c.rep.addBytes(int64(n))
		}
		c.mu.Unlock()
	}
	return n, err
}

func (c *countingReader) count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// retire stops counting and returns the bytes counted so far.
func (c *countingReader) retire() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retired = true
	return c.n
}

func (c *countingReader) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
