package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrebq/turnstile/config"
	"github.com/andrebq/turnstile/credentials"
	"github.com/andrebq/turnstile/internal/logutil"
	"github.com/andrebq/turnstile/session"
	"github.com/andrebq/turnstile/store"
)

type (
	// Runtime holds the long lived resources shared by the commands.
	Runtime struct {
		Config   config.Config
		Store    *store.Control
		Registry *credentials.Registry

		closers []func() error
	}
)

// Open connects to the store and builds the credential registry.
func Open(ctx context.Context, cfg config.Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hasher, err := cfg.Hasher()
	if err != nil {
		return nil, err
	}
	ctl, err := store.Open(ctx, cfg.Store.DSN, cfg.StoreOptions())
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Store: ctl}
	rt.closers = append(rt.closers, ctl.Close)
	rt.Registry, err = credentials.NewRegistry(ctl, hasher)
	if err != nil {
		rt.Close()
		return nil, err
	}
	log := logutil.GetOrDefault(ctx)
	log.Info().Str("dialect", string(ctl.Dialect())).Msg("Store ready")
	return rt, nil
}

// Sessions returns a manager for srv using the configured backend.
func (rt *Runtime) Sessions(ctx context.Context, srv config.Server) (*session.Manager, error) {
	backend, err := rt.backend(ctx, srv)
	if err != nil {
		return nil, err
	}
	return session.NewManager(backend, srv.Policy()), nil
}

func (rt *Runtime) backend(ctx context.Context, srv config.Server) (session.Backend, error) {
	switch rt.Config.Session.Backend {
	case config.BackendSQL:
		return session.NewSQLBackend(rt.Store), nil
	case config.BackendMemory:
		b, err := session.NewMemoryBackend(ctx, srv.SessionTTL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, b.Close)
		return b, nil
	case config.BackendRedis:
		client, err := session.ConnectRedis(rt.Config.Session.RedisURL)
		if err != nil {
			return nil, err
		}
		b := session.NewRedisBackend(client, rt.Config.Session.RedisPrefix)
		rt.closers = append(rt.closers, b.Close)
		if err := b.Ping(ctx); err != nil {
			return nil, fmt.Errorf("unable to reach redis, cause %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown session backend %q", rt.Config.Session.Backend)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
