// Package server exposes the local app folders to paired peers over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/geogram-dev/geomirror/internal/auth"
	"github.com/geogram-dev/geomirror/internal/cache"
	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/model"
	"github.com/geogram-dev/geomirror/internal/peerclient"
	"github.com/geogram-dev/geomirror/internal/registry"
)

// Options configures a Server.
type Options struct {
	// DataDir and Callsign locate the served folders: DataDir/Callsign/<app>.
	DataDir  string
	Callsign string
	// SharedApps limits the served apps; empty shares every known app.
	SharedApps []string
	// RequireAuth rejects requests not signed by a registered peer.
	RequireAuth bool
	// Registry maps signing keys to peers. May be nil when auth is off.
	Registry    *registry.Registry
	CORSOrigins []string
	MaxSkew     time.Duration
}

// Server serves the mirror endpoints.
type Server struct {
	opts     Options
	router   *gin.Engine
	verifier auth.Verifier

	mu     sync.Mutex
	hashes map[string]*cache.Cache
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.DataDir == "" || opts.Callsign == "" {
		return nil, fmt.Errorf("server needs a data directory and a callsign")
	}
	if opts.RequireAuth && opts.Registry == nil {
		return nil, fmt.Errorf("require_auth needs a peer registry")
	}
	for _, app := range opts.SharedApps {
		if !model.IsKnownApp(app) {
			return nil, fmt.Errorf("unknown shared app %q", app)
		}
	}

	s := &Server{
		opts:     opts,
		verifier: auth.Verifier{MaxSkew: opts.MaxSkew},
		hashes:   make(map[string]*cache.Cache),
	}
	s.router = s.newRouter()
	return s, nil
}

func (s *Server) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", peerclient.HeaderModifiedAt, peerclient.HeaderHash, peerclient.HeaderCallsign},
		ExposeHeaders: []string{peerclient.HeaderModifiedAt, peerclient.HeaderHash},
	}))

	r.GET(peerclient.HealthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "callsign": s.opts.Callsign})
	})

	api := r.Group("/api/mirror")
	api.Use(s.authenticate())
	{
		api.GET("/manifest", s.getManifest)
		api.GET("/file", s.getFile)
		api.PUT("/file", s.putFile)
		api.DELETE("/file", s.deleteFile)
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Root returns the folder served for appID.
func (s *Server) Root(appID string) string {
	return filepath.Join(s.opts.DataDir, s.opts.Callsign, appID)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("mirror server listening", "addr", addr, "callsign", s.opts.Callsign)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) shared(appID string) bool {
	if !model.IsKnownApp(appID) {
		return false
	}
	return len(s.opts.SharedApps) == 0 || slices.Contains(s.opts.SharedApps, appID)
}

func (s *Server) hashCache(appID string) *cache.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.hashes[appID]
	if !ok {
		c = cache.Memory()
		s.hashes[appID] = c
	}
	return c
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("mirror request",
			"method", c.Request.Method,
			logging.Path(c.Request.URL.Path),
			"status", c.Writer.Status(),
			logging.Duration(time.Since(start)),
		)
	}
}
