package di

import (
	"context"
	"fmt"
	"time"

	"realtime-chat/backend/internal/feed"
	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/internal/orchestrator"
	"realtime-chat/backend/internal/responder"
	"realtime-chat/backend/internal/session"
	"realtime-chat/backend/internal/store"
	"realtime-chat/backend/internal/ws"
	"realtime-chat/backend/pkg/config"
	"realtime-chat/backend/pkg/health"
	"realtime-chat/backend/pkg/logger"
	"realtime-chat/backend/pkg/resilience"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config       *config.Config
	DB           *gorm.DB
	Logger       *logger.Logger
	Redis        *redis.Client
	Feed         feed.Feed
	Store        *store.MessageStore
	Orchestrator *orchestrator.Orchestrator
	Breakers     []*resilience.CircuitBreaker
	Sessions     *session.Factory
	Hub          *ws.Hub
	Health       *health.Checker
}

// New creates a new dependency injection container
func New(db *gorm.DB, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if cfg == nil {
		cfg = config.Get()
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	if err := store.Migrate(db); err != nil {
		return nil, err
	}

	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
		Health: health.NewChecker(log, cfg.Observability.HealthPeriod),
	}

	if err := c.setupFeed(); err != nil {
		return nil, err
	}

	c.Store = store.NewMessageStore(db, c.Feed, cfg.Chat.RecentLimit, log)
	c.Health.RegisterDatabaseCheck(c.Store.Ping)

	c.Orchestrator = orchestrator.New(c.Store, log)
	opts := responder.Options{
		Timeout: cfg.Inference.Timeout,
		APIKey:  cfg.Inference.APIKey,
		Logger:  log,
	}
	c.register(models.SourceTinyLlama, "tiny_llama_1b", responder.NewLlamaClient(cfg.LlamaURL(), opts))
	c.register(models.SourceBruvi, "bruvi", responder.NewBruviClient(cfg.BruviURL(), opts))

	c.Sessions = session.NewFactory(c.Store, c.Orchestrator, cfg.Chat.RecentLimit, log)
	c.Hub = ws.NewHub(log)

	log.Info("Container initialized",
		"feed", cfg.Feed.Driver,
		"inference", cfg.Inference.BaseURL,
		"sources", len(c.Orchestrator.Sources()),
	)
	return c, nil
}

func (c *Container) setupFeed() error {
	cfg := c.Config
	switch cfg.Feed.Driver {
	case "", "memory":
		c.Feed = feed.NewBroker(cfg.Feed.BufferSize, c.Logger)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.Redis = client
		c.Feed = feed.NewRedisFeed(client, cfg.Feed.Channel, cfg.Feed.BufferSize, c.Logger)
		c.Health.RegisterRedisCheck(client)
	default:
		return fmt.Errorf("unknown feed driver %q", cfg.Feed.Driver)
	}
	return nil
}

// register guards r with a circuit breaker and hands it to the orchestrator
func (c *Container) register(source models.Source, name string, r responder.Responder) {
	bc := resilience.DefaultConfig(name)
	if t := c.Config.Inference.BreakerThreshold; t > 0 {
		bc.FailureThreshold = uint(t)
	}
	if d := c.Config.Inference.BreakerCoolDown; d > 0 {
		bc.CoolDown = d
	}
	cb := resilience.New(bc, c.Logger)

	c.Orchestrator.Register(source, responder.WithBreaker(name, r, cb))
	c.Breakers = append(c.Breakers, cb)
	c.Health.RegisterBreakerCheck(cb)
}

// Close releases the feed, redis and database connections
func (c *Container) Close() error {
	var firstErr error
	if c.Feed != nil {
		if err := c.Feed.Close(); err != nil {
			firstErr = err
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
