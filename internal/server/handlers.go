package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/manifest"
	"github.com/geogram-dev/geomirror/internal/peerclient"
	"github.com/geogram-dev/geomirror/internal/util"
)

var (
	errNotShared = errors.New("app not shared")
	errReadOnly  = errors.New("app does not accept changes from this peer")
	errBadUpload = errors.New("bad upload")
)

func (s *Server) getManifest(c *gin.Context) {
	appID := c.Query("app")
	if err := s.checkApp(c, appID, false); err != nil {
		s.writeError(c, err)
		return
	}
	m, err := manifest.Scan(s.Root(appID), s.hashCache(appID))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) getFile(c *gin.Context) {
	appID := c.Query("app")
	if err := s.checkApp(c, appID, false); err != nil {
		s.writeError(c, err)
		return
	}
	p, err := util.ScopedPath(s.Root(appID), c.Query("path"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	fi, err := os.Stat(p)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !fi.Mode().IsRegular() {
		s.writeError(c, fs.ErrNotExist)
		return
	}
	hash, ok := s.hashCache(appID).Get(c.Query("path"), fi.Size(), fi.ModTime())
	if !ok {
		if hash, err = manifest.HashFile(p); err != nil {
			s.writeError(c, err)
			return
		}
	}

	// #nosec G304 - p is scoped to the app folder
	f, err := os.Open(p)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer func() { _ = f.Close() }()

	c.DataFromReader(http.StatusOK, fi.Size(), "application/octet-stream", f, map[string]string{
		peerclient.HeaderModifiedAt: strconv.FormatInt(fi.ModTime().UnixMilli(), 10),
		peerclient.HeaderHash:       hash,
	})
}

func (s *Server) putFile(c *gin.Context) {
	appID := c.Query("app")
	rel := c.Query("path")
	if err := s.checkApp(c, appID, true); err != nil {
		s.writeError(c, err)
		return
	}
	p, err := util.ScopedPath(s.Root(appID), rel)
	if err != nil {
		s.writeError(c, err)
		return
	}

	var modTime time.Time
	if v := c.GetHeader(peerclient.HeaderModifiedAt); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + peerclient.HeaderModifiedAt})
			return
		}
		modTime = time.UnixMilli(ms)
	}
	wantHash := strings.ToLower(c.GetHeader(peerclient.HeaderHash))

	n, err := util.WriteAtomic(p, c.Request.Body, 0o644, func(tmpPath string) error {
		if wantHash != "" {
			got, err := manifest.HashFile(tmpPath)
			if err != nil {
				return err
			}
			if got != wantHash {
				return fmt.Errorf("%w: hash mismatch", errBadUpload)
			}
		}
		if !modTime.IsZero() {
			return os.Chtimes(tmpPath, modTime, modTime)
		}
		return nil
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	logging.Debug("stored upload", logging.App(appID), logging.Path(rel), logging.Bytes(n))
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteFile(c *gin.Context) {
	appID := c.Query("app")
	if err := s.checkApp(c, appID, true); err != nil {
		s.writeError(c, err)
		return
	}
	p, err := util.ScopedPath(s.Root(appID), c.Query("path"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// checkApp verifies the app is shared and, for writes, that the signing peer
// may push changes to it.
func (s *Server) checkApp(c *gin.Context, appID string, write bool) error {
	if !s.shared(appID) {
		return errNotShared
	}
	peer, ok := PeerFromContext(c)
	if !ok {
		return nil
	}
	cfg, configured := peer.Apps[appID]
	if !configured {
		return nil
	}
	if !cfg.Active() {
		return errNotShared
	}
	if write && !cfg.Style.CanReceive() {
		return errReadOnly
	}
	return nil
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errNotShared), errors.Is(err, errReadOnly):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, util.ErrOutsideRoot), errors.Is(err, errBadUpload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		logging.Error("mirror request failed", logging.Path(c.Request.URL.Path), logging.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
