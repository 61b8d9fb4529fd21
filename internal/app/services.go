package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/evroute/ruled/internal/config"
	"github.com/evroute/ruled/internal/db"
	"github.com/evroute/ruled/internal/events"
	"github.com/evroute/ruled/internal/ledger"
	"github.com/evroute/ruled/internal/reconcile"
	"github.com/evroute/ruled/internal/server"
	"github.com/evroute/ruled/internal/storage"
	"github.com/evroute/ruled/internal/storage/kv"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Store    *storage.Store
	Rules    *storage.TypedStore[map[string]string]
	Sessions kv.Bucket

	// Remote service client
	Client *events.Client

	// Reconciliation
	Reconciler *reconcile.Reconciler

	// Invocation surface
	Server *server.Server

	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	s.Ledger = ledger.New(database.DB)

	// Initialize state stores
	s.Store = storage.NewStore(database.DB)
	s.Rules = storage.NewTypedStore[map[string]string](s.Store, "rule")
	s.Sessions = kv.NewSQLiteBucket(database.DB, "sessions", cfg.Session.TTL.Duration())

	// Initialize remote client
	s.Client = events.NewClient(cfg.Remote.Endpoint, cfg.Remote.Token, cfg.Remote.Timeout.Duration())

	// Initialize reconciler
	s.Reconciler = reconcile.New(
		s.Client,
		s.Client,
		cfg.Reconciler.RateLimitRPS,
		cfg.Remote.Region,
		cfg.Remote.Principal,
		cfg.Reconciler.CallbackSec,
	)

	// Initialize invocation server
	s.Server = server.New(cfg.Server.Host, cfg.Server.Port, s.Reconciler, s.Sessions, s.Rules, s.Ledger)

	return s, nil
}

// Start launches the long-running services.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			onFatalError(err)
		}
	}()

	s.wg.Add(1)
	go s.runCleanup(ctx)

	return nil
}

// runCleanup periodically expires ledger entries and stale session
// snapshots.
func (s *Services) runCleanup(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Ledger.CleanupInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := s.Ledger.Cleanup(s.cfg.Ledger.RetentionDays); err != nil {
				log.Error().Err(err).Msg("Ledger cleanup failed")
			} else if removed > 0 {
				log.Debug().Int64("removed", removed).Msg("Ledger cleanup completed")
			}
			if removed, err := kv.CleanupExpired(s.DB.DB); err != nil {
				log.Error().Err(err).Msg("Session cleanup failed")
			} else if removed > 0 {
				log.Debug().Int64("removed", removed).Msg("Session cleanup completed")
			}
		}
	}
}

// Stop closes all services in reverse dependency order.
func (s *Services) Stop() error {
	s.wg.Wait()

	if s.Client != nil {
		s.Client.Close()
	}
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
