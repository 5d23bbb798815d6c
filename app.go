package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"voxdrop/account"
	"voxdrop/config"
	"voxdrop/doctor"
	"voxdrop/invite"
	"voxdrop/library"
	"voxdrop/log"
	"voxdrop/recorder"
	"voxdrop/server"
	"voxdrop/store/memory"
	"voxdrop/store/redislib"
	"voxdrop/store/sqlstore"
	"voxdrop/transcribe"
	"voxdrop/upload"
)

// backingStore is the full surface both store implementations provide.
type backingStore interface {
	server.Store
	recorder.Store
	upload.StreamWriter
	library.Store
}

type app struct {
	cfg     *config.Config
	store   backingStore
	entries library.Store
	checks  []doctor.Check
	closers []func() error

	backend     transcribe.Transcriber
	coordinator *transcribe.Coordinator
	issuer      *invite.Issuer
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	switch cfg.Store.Backend {
	case "memory":
		a.store = memory.New(memory.WithSyncDelay(cfg.Store.SyncDelay))
		a.checks = append(a.checks, doctor.StoreCheck("Message store", nil))
	default:
		st, err := sqlstore.Open(cfg.Store.Backend, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
		a.checks = append(a.checks, doctor.StoreCheck("Message store ("+cfg.Store.Backend+")", st))
	}
	a.entries = a.store

	if cfg.Library.Backend == "redis" {
		lib, err := redislib.Dial(ctx, cfg.Library.RedisAddr, cfg.Library.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.entries = lib
		a.closers = append(a.closers, lib.Close)
		a.checks = append(a.checks, doctor.StoreCheck("Library index (redis)", lib))
	}

	backend, err := transcribe.New(transcribe.Options{
		Provider: cfg.Transcription.Provider,
		URL:      cfg.Transcription.URL,
		APIKey:   cfg.Transcription.APIKey,
		Model:    cfg.Transcription.Model,
		Language: cfg.Transcription.Language,
	})
	switch {
	case errors.Is(err, transcribe.ErrNoBackend):
	case err != nil:
		a.Close()
		return nil, err
	default:
		a.backend = backend
		a.coordinator = transcribe.NewCoordinator(backend, a.store, a.store)
		a.coordinator.SetTimeout(cfg.Transcription.Timeout)
	}

	secret, err := cfg.InviteSecret()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.issuer, err = invite.NewIssuer(secret, cfg.Invite.BaseURL, invite.WithTTL(cfg.Invite.TTL))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warnf("close_failed: %v", err)
		}
	}
	a.closers = nil
}

// session opens the configured account, falling back to the OS user.
func (a *app) session(ctx context.Context) (*account.Session, error) {
	id, name := a.cfg.Account.ID, a.cfg.Account.Name
	if id == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("no account configured: %w", err)
		}
		id = u.Username
		if name == "" {
			name = u.Name
		}
	}
	return account.Open(ctx, a.store, a.entries, a.store, id, name)
}

func (a *app) channel() *upload.Channel {
	return upload.NewChannel(a.store,
		upload.WithChunkSize(a.cfg.Store.ChunkSize),
		upload.WithSyncTimeout(a.cfg.Store.SyncTimeout),
	)
}

func (a *app) server() *server.Server {
	return server.New(server.Config{
		Store:          a.store,
		Entries:        a.entries,
		Coordinator:    a.coordinator,
		Issuer:         a.issuer,
		AutoTranscribe: a.cfg.Transcription.AutoOnView,
	})
}
