package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geogram-dev/geomirror/internal/auth"
	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/model"
)

const peerKey = "peer"

// PeerFromContext returns the registered peer that signed the request, if any.
func PeerFromContext(c *gin.Context) (model.Peer, bool) {
	if v, ok := c.Get(peerKey); ok {
		if p, ok := v.(model.Peer); ok {
			return p, true
		}
	}
	return model.Peer{}, false
}

// authenticate verifies Nostr signatures. Unsigned requests pass only when
// auth is not required; a present but invalid signature is always rejected.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if s.opts.RequireAuth {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			c.Next()
			return
		}

		pub, err := s.verifier.Verify(header, c.Request.Method, c.Request.URL.RequestURI())
		if err != nil {
			if errors.Is(err, auth.ErrMissingAuth) && !s.opts.RequireAuth {
				c.Next()
				return
			}
			logging.Debug("rejected signature", logging.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if s.opts.Registry != nil {
			if peer, ok := s.opts.Registry.FindByPublicKey(pub); ok {
				c.Set(peerKey, peer)
				c.Next()
				return
			}
		}
		if s.opts.RequireAuth {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown peer"})
			return
		}
		c.Next()
	}
}
