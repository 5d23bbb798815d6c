// Package server exposes voice messages over HTTP: the share link target, the
// audio bytes, and the creator's management operations.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voxdrop/access"
	"voxdrop/account"
	"voxdrop/invite"
	"voxdrop/library"
	"voxdrop/log"
	"voxdrop/message"
	"voxdrop/store"
	"voxdrop/transcribe"
)

const (
	HeaderAccountID   = "X-Account-ID"
	HeaderAccountName = "X-Account-Name"
)

// Store is everything the handlers read and write.
type Store interface {
	account.Store
	message.Source
	message.Updater
	invite.GroupMembers
	ReadStream(ctx context.Context, id string) ([]byte, store.StreamInfo, error)
}

type Config struct {
	Store   Store
	Entries library.Store
	// Coordinator may be nil when no transcription backend is configured.
	Coordinator *transcribe.Coordinator
	Issuer      *invite.Issuer
	// AutoTranscribe starts a background transcription when an
	// untranscribed message is viewed.
	AutoTranscribe bool
}

type Server struct {
	cfg    Config
	engine *gin.Engine

	// bg is the parent of background transcriptions; cancelled by Run on exit.
	bg     context.Context
	cancel context.CancelFunc
}

func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	bg, cancel := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, engine: engine, bg: bg, cancel: cancel}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.healthz)

	msg := s.engine.Group("/message/:id", s.viewer())
	{
		msg.GET("", s.getMessage)
		msg.GET("/audio", s.getAudio)
		msg.POST("/transcribe", s.transcribe)
	}

	owned := s.engine.Group("", s.requireAccount())
	{
		owned.PATCH("/message/:id", s.setTitle)
		owned.POST("/message/:id/invite", s.createInvite)
		owned.POST("/invite/:token", s.acceptInvite)
		owned.GET("/messages", s.listMessages)
		owned.DELETE("/messages/:id", s.deleteMessage)
		owned.GET("/profile", s.getProfile)
		owned.PATCH("/profile", s.updateProfile)
	}
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("server_listening: addr=%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}

	log.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.cancel()
	if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}

// Close cancels background work started by handlers.
func (s *Server) Close() { s.cancel() }

const sessionKey = "voxdrop.session"

func session(c *gin.Context) *account.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*account.Session)
	return sess
}

func principal(c *gin.Context) access.Principal {
	return session(c).Principal()
}
