// Package orchestrator decides, from the selected response source, whether
// and how an automated reply follows a user message.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/internal/responder"
	"realtime-chat/backend/pkg/logger"
)

// Action is the outcome of dispatching a response source
type Action int

const (
	// ActionNone means no automated reply, e.g. a human answers
	ActionNone Action = iota
	// ActionRespond means a registered responder produces the reply
	ActionRespond
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRespond:
		return "respond"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ConfigurationError signals a response source with no implementation.
// Err is a *models.UnknownSourceError when the source is not in the enum.
type ConfigurationError struct {
	Source models.Source
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("source %s is not supported yet", e.Source)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Inserter persists replies
type Inserter interface {
	Insert(ctx context.Context, msg models.NewMessage) (*models.Message, error)
}

// Orchestrator maps response sources to responders
type Orchestrator struct {
	store      Inserter
	mu         sync.RWMutex
	responders map[models.Source]responder.Responder
	log        *logger.Logger
}

// New creates an orchestrator with no responders registered
func New(store Inserter, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Orchestrator{
		store:      store,
		responders: make(map[models.Source]responder.Responder),
		log:        log,
	}
}

// Register binds a responder to a source. Its replies are tagged with that source.
func (o *Orchestrator) Register(source models.Source, r responder.Responder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responders[source] = r
}

// Decide returns the action for source without side effects
func (o *Orchestrator) Decide(source models.Source) (Action, error) {
	switch source {
	case models.SourceHuman, models.SourceNull:
		return ActionNone, nil
	}

	if _, err := models.ParseSource(string(source)); err != nil {
		return ActionNone, &ConfigurationError{Source: source, Err: err}
	}

	o.mu.RLock()
	_, ok := o.responders[source]
	o.mu.RUnlock()
	if !ok {
		return ActionNone, &ConfigurationError{Source: source}
	}
	return ActionRespond, nil
}

// Respond runs the action for source over history and inserts the reply.
// It returns nil when the action is ActionNone. Responder failures are
// returned unchanged and nothing is inserted.
func (o *Orchestrator) Respond(ctx context.Context, source models.Source, history []models.Message) (*models.Message, error) {
	action, err := o.Decide(source)
	if err != nil {
		return nil, err
	}
	if action == ActionNone {
		o.log.Debug("No automated reply", "response_source", source)
		return nil, nil
	}

	o.mu.RLock()
	r := o.responders[source]
	o.mu.RUnlock()

	reply, err := r.Respond(ctx, models.Turns(history))
	if err != nil {
		return nil, err
	}

	msg, err := o.store.Insert(ctx, models.NewMessage{
		Text:       reply.Text,
		Source:     source,
		References: reply.References,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store reply: %w", err)
	}

	o.log.Info("Stored automated reply",
		"response_source", source,
		"message_id", msg.ID,
		"references", len(reply.References))
	return msg, nil
}

// Sources lists the response sources that can be selected right now
func (o *Orchestrator) Sources() []models.Source {
	out := make([]models.Source, 0, len(models.ResponseSources))
	for _, s := range models.ResponseSources {
		if _, err := o.Decide(s); err == nil {
			out = append(out, s)
		}
	}
	return out
}
