package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voxdrop/account"
	"voxdrop/log"
	"voxdrop/store"
)

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		log.Request(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) openSession(c *gin.Context, accountID string) bool {
	sess, err := account.Open(c.Request.Context(), s.cfg.Store, s.cfg.Entries, s.cfg.Store,
		accountID, c.GetHeader(HeaderAccountName))
	if err != nil {
		log.Errorf("session_open_failed: %v", err)
		abort(c, http.StatusInternalServerError, "could not open account")
		return false
	}
	c.Set(sessionKey, sess)
	return true
}

// viewer attaches the session of a known account. Reads never create a
// profile: anonymous callers and unknown accounts read as everyone.
func (s *Server) viewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderAccountID)
		if id == "" {
			c.Next()
			return
		}
		sess, err := account.Lookup(c.Request.Context(), s.cfg.Store, s.cfg.Entries, s.cfg.Store, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			log.Errorf("session_lookup_failed: %v", err)
			abort(c, http.StatusInternalServerError, "could not load account")
			return
		default:
			c.Set(sessionKey, sess)
		}
		c.Next()
	}
}

func (s *Server) requireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderAccountID)
		if id == "" {
			abort(c, http.StatusBadRequest, HeaderAccountID+" header is required")
			return
		}
		if !s.openSession(c, id) {
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
