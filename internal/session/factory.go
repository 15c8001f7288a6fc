package session

import (
	"realtime-chat/backend/pkg/logger"
)

// Factory builds sessions that share one store and orchestrator
type Factory struct {
	store       Store
	orch        Orchestrator
	recentLimit int
	log         *logger.Logger
}

// NewFactory creates a session factory
func NewFactory(store Store, orch Orchestrator, recentLimit int, log *logger.Logger) *Factory {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Factory{
		store:       store,
		orch:        orch,
		recentLimit: recentLimit,
		log:         log,
	}
}

// New creates an unopened session. A zero RecentLimit in cfg takes the factory default.
func (f *Factory) New(cfg Config, n Notifier, id string) *Session {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = f.recentLimit
	}
	return New(f.store, f.orch, cfg, n, f.log.WithSession(id))
}
