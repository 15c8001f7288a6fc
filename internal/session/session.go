// Package session holds the per-client chat state: the visible message
// list, the single-flight sending flag and the selected sources.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"realtime-chat/backend/internal/feed"
	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/internal/orchestrator"
	"realtime-chat/backend/pkg/logger"
	"realtime-chat/backend/pkg/observability"
)

var (
	// ErrEmptyMessage is returned by Send for empty input
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSendInProgress is returned by Send while a previous send has not settled
	ErrSendInProgress = errors.New("a message is already being sent")
	// ErrClosed is returned by operations on a closed session
	ErrClosed = errors.New("session closed")
)

// Store is the part of the message store a session uses
type Store interface {
	FetchRecent(ctx context.Context, limit int) ([]models.Message, error)
	Insert(ctx context.Context, msg models.NewMessage) (*models.Message, error)
	DeleteAll(ctx context.Context) error
	SubscribeToInserts(ctx context.Context) (*feed.Subscription, error)
}

// Orchestrator produces the automated reply, if any, for a response source
type Orchestrator interface {
	Respond(ctx context.Context, source models.Source, history []models.Message) (*models.Message, error)
}

// Config holds the per-session settings
type Config struct {
	InputSource    models.Source
	ResponseSource models.Source
	RecentLimit    int
}

// State is a point-in-time copy of the session
type State struct {
	Messages       []models.Message
	Sending        bool
	LoadFailed     bool
	InputSource    models.Source
	ResponseSource models.Source
}

// Session is the controller behind one connected client
type Session struct {
	store    Store
	orch     Orchestrator
	notifier Notifier
	log      *logger.Logger

	mu             sync.Mutex
	messages       []models.Message
	seen           map[uint]struct{}
	clearedThrough uint // highest id listed when the log was last cleared
	sending        bool
	loadFailed     bool
	opened         bool
	closed         bool
	inputSource    models.Source
	responseSource models.Source
	recentLimit    int
	sub            *feed.Subscription
	loopDone       chan struct{}
}

// New creates a session. Call Open before use.
func New(store Store, orch Orchestrator, cfg Config, notifier Notifier, log *logger.Logger) *Session {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Session{
		store:          store,
		orch:           orch,
		notifier:       notifier,
		log:            log,
		seen:           make(map[uint]struct{}),
		inputSource:    cfg.InputSource,
		responseSource: cfg.ResponseSource,
		recentLimit:    cfg.RecentLimit,
	}
}

// Open subscribes to the change-feed and loads the recent window. A failed
// load leaves the session empty and flagged instead of failing Open.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.mu.Unlock()

	// Subscribe before fetching so no insert falls between the two;
	// overlap is removed by the id filter in merge.
	sub, err := s.store.SubscribeToInserts(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to inserts: %w", err)
	}

	messages, fetchErr := s.store.FetchRecent(ctx, s.recentLimit)
	if fetchErr != nil {
		s.log.LogError(fetchErr, "Failed to load recent messages")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Close()
		return ErrClosed
	}
	s.sub = sub
	s.loopDone = make(chan struct{})
	s.loadFailed = fetchErr != nil
	s.messages = s.messages[:0]
	for _, msg := range messages {
		if _, dup := s.seen[msg.ID]; dup {
			continue
		}
		s.seen[msg.ID] = struct{}{}
		s.messages = append(s.messages, msg)
	}
	s.notifier.Notify(Event{
		Type:       EventHistory,
		Messages:   cloneMessages(s.messages),
		LoadFailed: s.loadFailed,
	})
	s.mu.Unlock()

	observability.SessionOpened(ctx)
	go s.listen(sub, s.loopDone)

	s.log.Info("Session opened",
		"messages", len(messages),
		"load_failed", fetchErr != nil,
		"input_source", s.inputSource)
	return nil
}

func (s *Session) listen(sub *feed.Subscription, done chan struct{}) {
	defer close(done)
	for msg := range sub.Events() {
		s.merge(msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.Debug("Session feed ended")
		return
	}
	s.log.Warn("Change-feed ended while session is open")
	s.notifier.Notify(Event{Type: EventAlert, Alert: FeedLostAlert})
}

// merge appends msg unless its id is already listed. It reports whether
// the list changed.
func (s *Session) merge(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, dup := s.seen[msg.ID]; dup {
		return false
	}
	if msg.ID <= s.clearedThrough {
		// late echo of a row the clear already removed
		return false
	}
	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	m := msg
	s.notifier.Notify(Event{Type: EventMessage, Message: &m})
	return true
}

// Send inserts text from this session's input source, then asks the
// orchestrator for a reply from the response source selected at this moment.
// Sending stays set until the whole chain settles.
func (s *Session) Send(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.sending {
		s.mu.Unlock()
		return ErrSendInProgress
	}
	s.sending = true
	input, response := s.inputSource, s.responseSource
	s.notifier.Notify(Event{Type: EventSending, Sending: true})
	s.mu.Unlock()

	defer s.setSending(false)

	msg, err := s.store.Insert(ctx, models.NewMessage{Text: text, Source: input})
	if err != nil {
		s.log.LogError(err, "Failed to insert message", "input_source", input)
		s.alert("Failed to send message")
		return err
	}

	s.mu.Lock()
	s.notifier.Notify(Event{Type: EventInputCleared})
	s.mu.Unlock()
	s.merge(*msg)

	reply, err := s.orch.Respond(ctx, response, s.history(msg))
	if err != nil {
		var cerr *orchestrator.ConfigurationError
		if errors.As(err, &cerr) {
			s.alert(cerr.Error())
		} else {
			s.log.LogError(err, "Response failed", "response_source", response, "message_id", msg.ID)
		}
		return err
	}
	if reply != nil {
		s.merge(*reply)
	}
	return nil
}

// history returns the current list, guaranteed to contain sent
func (s *Session) history(sent *models.Message) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := cloneMessages(s.messages)
	if _, ok := s.seen[sent.ID]; !ok {
		out = append(out, *sent)
	}
	return out
}

func (s *Session) setSending(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = v
	if !s.closed {
		s.notifier.Notify(Event{Type: EventSending, Sending: v})
	}
}

func (s *Session) alert(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.notifier.Notify(Event{Type: EventAlert, Alert: text})
	}
}

// ClearAll deletes the whole log. The local list is emptied only on success.
func (s *Session) ClearAll(ctx context.Context) error {
	if err := s.store.DeleteAll(ctx); err != nil {
		s.log.LogError(err, "Failed to clear messages")
		s.alert("Failed to clear messages")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.seen {
		if id > s.clearedThrough {
			s.clearedThrough = id
		}
	}
	s.messages = nil
	s.seen = make(map[uint]struct{})
	if !s.closed {
		s.notifier.Notify(Event{Type: EventCleared})
	}
	return nil
}

// SetResponseSource changes the selector used by later sends. Any value is
// accepted; one the orchestrator cannot serve raises an alert on the next send.
func (s *Session) SetResponseSource(source models.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseSource = source
	if !s.closed {
		s.notifier.Notify(Event{Type: EventResponseSource, Source: source})
	}
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Messages:       cloneMessages(s.messages),
		Sending:        s.sending,
		LoadFailed:     s.loadFailed,
		InputSource:    s.inputSource,
		ResponseSource: s.responseSource,
	}
}

// Close ends the subscription. Feed events after Close are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub, done := s.sub, s.loopDone
	s.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Close()
	<-done
	observability.SessionClosed(context.Background())
	s.log.Info("Session closed")
}

func cloneMessages(in []models.Message) []models.Message {
	out := make([]models.Message, len(in))
	copy(out, in)
	return out
}
