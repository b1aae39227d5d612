// Package app assembles the long-lived clients once at startup and exposes
// the session, state and analysis operations on top of them.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"learnassist/internal/config"
	"learnassist/src"
	"learnassist/src/analysis"
	"learnassist/src/cache"
	"learnassist/src/conversation"
	"learnassist/src/coordinator"
	"learnassist/src/lock"
	"learnassist/src/logger"
	"learnassist/src/provider"
	"learnassist/src/router"
	"learnassist/src/state"
	"learnassist/src/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds every client handle. It is built once by New or Assemble and
// torn down with Close.
type App struct {
	Store        *state.Store
	Coordinator  *coordinator.Coordinator
	Router       *router.Router
	Runtime      *storage.RuntimeStore
	Conversation *conversation.Service
	Registry     *prometheus.Registry

	cache cache.Cache
	redis *redis.Client
	log   *zerolog.Logger
}

// Deps are the externally created handles Assemble wires together.
type Deps struct {
	Config   *src.Config
	Redis    *redis.Client
	DB       *sql.DB
	Provider provider.Provider
	Modes    *config.ModesFile
}

// New connects to Redis, SQLite and the reasoning provider described by cfg.
func New(ctx context.Context, cfg *src.Config) (*App, error) {
	client, err := storage.NewRedisClient(ctx, cfg.RedisConfig.URL)
	if err != nil {
		return nil, err
	}

	db, err := state.Open(cfg.DatabaseConfig)
	if err != nil {
		client.Close()
		return nil, err
	}

	p, err := provider.New(ctx, cfg.ProviderConfig, cfg.ExecutionConfig.Timeout)
	if err != nil {
		client.Close()
		db.Close()
		return nil, err
	}

	modes, err := config.LoadModes(cfg.RouterConfig.ModesFile)
	if err != nil {
		client.Close()
		db.Close()
		return nil, err
	}

	a, err := Assemble(Deps{Config: cfg, Redis: client, DB: db, Provider: p, Modes: modes})
	if err != nil {
		client.Close()
		db.Close()
		return nil, err
	}
	return a, nil
}

// Assemble wires an App from already opened handles. It takes ownership of
// deps.Redis and deps.DB.
func Assemble(deps Deps) (*App, error) {
	cfg := deps.Config
	modes := deps.Modes
	if modes == nil {
		modes = config.DefaultModes()
	}

	store, err := state.New(deps.DB, state.NewRedisContentCache(deps.Redis), cfg.StateConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}

	reg := prometheus.NewRegistry()
	resultCache := cache.NewRedisCache(deps.Redis)
	coord := coordinator.New(coordinator.Config{
		Registry:  analysis.NewRegistry(),
		Provider:  deps.Provider,
		Locker:    lock.NewRedisLocker(deps.Redis),
		Cache:     resultCache,
		Metrics:   coordinator.NewMetrics(reg),
		Execution: cfg.ExecutionConfig,
	})

	conv := conversation.NewService(
		conversation.NewRedisRepository(deps.Redis, cfg.ConversationConfig.TTL, cfg.ConversationConfig.MaxTurns),
		conversation.NewWindowStrategy(cfg.ConversationConfig.MaxTurns),
	)

	return &App{
		Store:        store,
		Coordinator:  coord,
		Router:       router.New(modes, deps.Provider),
		Runtime:      storage.NewRuntimeStore(deps.Redis),
		Conversation: conv,
		Registry:     reg,
		cache:        resultCache,
		redis:        deps.Redis,
		log:          logger.Component("app"),
	}, nil
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	return errors.Join(a.Store.Close(), a.redis.Close())
}
