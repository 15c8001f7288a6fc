package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"realtime-chat/backend/internal/feed"
	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/internal/orchestrator"
	"realtime-chat/backend/internal/responder"
	"realtime-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// memStore is an in-memory store that publishes inserts on a broker
type memStore struct {
	mu        sync.Mutex
	messages  []models.Message
	nextID    uint
	broker    *feed.Broker
	fetchErr  error
	insertErr error
	deleteErr error
}

func newMemStore(t *testing.T) *memStore {
	b := feed.NewBroker(64, logger.Nop())
	t.Cleanup(func() { b.Close() })
	return &memStore{broker: b}
}

func (s *memStore) FetchRecent(ctx context.Context, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	start := 0
	if limit > 0 && len(s.messages) > limit {
		start = len(s.messages) - limit
	}
	return cloneMessages(s.messages[start:]), nil
}

func (s *memStore) Insert(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	if s.insertErr != nil {
		s.mu.Unlock()
		return nil, s.insertErr
	}
	s.nextID++
	msg := models.Message{ID: s.nextID, Text: in.Text, Source: in.Source, CreatedAt: time.Now(), References: in.References}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	_ = s.broker.Publish(ctx, msg)
	return &msg, nil
}

func (s *memStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.messages = nil
	return nil
}

func (s *memStore) SubscribeToInserts(ctx context.Context) (*feed.Subscription, error) {
	return s.broker.Subscribe(ctx)
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// orchFunc adapts a function to Orchestrator
type orchFunc func(ctx context.Context, source models.Source, history []models.Message) (*models.Message, error)

func (f orchFunc) Respond(ctx context.Context, source models.Source, history []models.Message) (*models.Message, error) {
	return f(ctx, source, history)
}

var noReply = orchFunc(func(context.Context, models.Source, []models.Message) (*models.Message, error) {
	return nil, nil
})

// recorder keeps every event it receives
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, e := range r.all() {
		if e.Type == t {
			n++
		}
	}
	return n
}

func customerConfig() Config {
	return Config{InputSource: models.SourceCustomer, ResponseSource: models.SourceBruvi, RecentLimit: 100}
}

func openSession(t *testing.T, store *memStore, orch Orchestrator) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := New(store, orch, customerConfig(), rec, logger.Nop())
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(s.Close)
	return s, rec
}

func ids(messages []models.Message) []uint {
	out := make([]uint, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestOpenLoadsHistory(t *testing.T) {
	store := newMemStore(t)
	for _, text := range []string{"a", "b"} {
		_, err := store.Insert(context.Background(), models.NewMessage{Text: text, Source: models.SourceCustomer})
		require.NoError(t, err)
	}

	s, rec := openSession(t, store, noReply)

	state := s.Snapshot()
	assert.Equal(t, []uint{1, 2}, ids(state.Messages))
	assert.False(t, state.LoadFailed)
	assert.Equal(t, models.SourceCustomer, state.InputSource)
	assert.Equal(t, models.SourceBruvi, state.ResponseSource)

	events := rec.all()
	require.NotEmpty(t, events)
	assert.Equal(t, EventHistory, events[0].Type)
	assert.Len(t, events[0].Messages, 2)
}

func TestOpenFetchFailureStartsEmpty(t *testing.T) {
	store := newMemStore(t)
	store.fetchErr = errors.New("db down")

	s, rec := openSession(t, store, noReply)

	state := s.Snapshot()
	assert.Empty(t, state.Messages)
	assert.True(t, state.LoadFailed)
	assert.True(t, rec.all()[0].LoadFailed)
}

func TestSendEmptyMessage(t *testing.T) {
	store := newMemStore(t)
	s, _ := openSession(t, store, noReply)

	assert.ErrorIs(t, s.Send(context.Background(), ""), ErrEmptyMessage)
	assert.Zero(t, store.count())
}

func TestSendWhitespaceIsNotEmpty(t *testing.T) {
	store := newMemStore(t)
	s, _ := openSession(t, store, noReply)

	require.NoError(t, s.Send(context.Background(), "   "))
	require.Equal(t, 1, store.count())
	assert.Equal(t, "   ", s.Snapshot().Messages[0].Text)
}

func TestSendIsSingleFlight(t *testing.T) {
	store := newMemStore(t)
	release := make(chan struct{})
	orch := orchFunc(func(ctx context.Context, source models.Source, history []models.Message) (*models.Message, error) {
		<-release
		return nil, nil
	})
	s, _ := openSession(t, store, orch)

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "first") }()

	require.Eventually(t, func() bool { return store.count() == 1 }, waitFor, tick)
	assert.True(t, s.Snapshot().Sending)

	assert.ErrorIs(t, s.Send(context.Background(), "second"), ErrSendInProgress)
	assert.Equal(t, 1, store.count())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.Snapshot().Sending)

	require.NoError(t, s.Send(context.Background(), "third"))
	assert.Equal(t, 2, store.count())
}

func TestSendEventsAndEchoDedup(t *testing.T) {
	store := newMemStore(t)
	s, rec := openSession(t, store, noReply)

	require.NoError(t, s.Send(context.Background(), "hello"))

	// an insert from another client comes after the echo on the feed
	_, err := store.Insert(context.Background(), models.NewMessage{Text: "other", Source: models.SourceHuman})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(s.Snapshot().Messages) == 2 }, waitFor, tick)

	assert.Equal(t, []uint{1, 2}, ids(s.Snapshot().Messages))
	assert.Equal(t, 2, rec.count(EventMessage))
	assert.Equal(t, 1, rec.count(EventInputCleared))

	var sending []bool
	for _, e := range rec.all() {
		if e.Type == EventSending {
			sending = append(sending, e.Sending)
		}
	}
	assert.Equal(t, []bool{true, false}, sending)
}

func TestSendPassesHistoryAndReplyIsMerged(t *testing.T) {
	store := newMemStore(t)
	_, err := store.Insert(context.Background(), models.NewMessage{Text: "earlier", Source: models.SourceCustomer})
	require.NoError(t, err)

	var gotSource models.Source
	var gotHistory []models.Message
	orch := orchFunc(func(ctx context.Context, source models.Source, history []models.Message) (*models.Message, error) {
		gotSource = source
		gotHistory = history
		return store.Insert(ctx, models.NewMessage{
			Text:       "X",
			Source:     source,
			References: []models.Reference{{URL: "u", PageTitle: "t", TextSummary: "s"}},
		})
	})
	s, _ := openSession(t, store, orch)

	require.NoError(t, s.Send(context.Background(), "question"))

	assert.Equal(t, models.SourceBruvi, gotSource)
	require.Len(t, gotHistory, 2)
	assert.Equal(t, "question", gotHistory[1].Text)
	assert.Equal(t, models.SourceCustomer, gotHistory[1].Source)

	// the reply arrives both from Send and from the feed but is listed once
	time.Sleep(20 * time.Millisecond)
	messages := s.Snapshot().Messages
	assert.Equal(t, []uint{1, 2, 3}, ids(messages))
	assert.True(t, messages[2].HasReferences())
}

func TestResponseSourceIsReadAtSendTime(t *testing.T) {
	store := newMemStore(t)
	var got []models.Source
	orch := orchFunc(func(ctx context.Context, source models.Source, history []models.Message) (*models.Message, error) {
		got = append(got, source)
		return nil, nil
	})
	s, rec := openSession(t, store, orch)

	require.NoError(t, s.Send(context.Background(), "one"))
	s.SetResponseSource(models.SourceTinyLlama)
	require.NoError(t, s.Send(context.Background(), "two"))

	assert.Equal(t, []models.Source{models.SourceBruvi, models.SourceTinyLlama}, got)
	assert.Equal(t, 1, rec.count(EventResponseSource))

	s.SetResponseSource("assistant/nope")
	assert.Equal(t, models.Source("assistant/nope"), s.Snapshot().ResponseSource)
}

func alertTexts(rec *recorder) []string {
	var alerts []string
	for _, e := range rec.all() {
		if e.Type == EventAlert {
			alerts = append(alerts, e.Alert)
		}
	}
	return alerts
}

func TestUnknownResponseSourceAlertsAfterInsert(t *testing.T) {
	store := newMemStore(t)
	bruviCalls := 0
	orch := orchestrator.New(store, logger.Nop())
	orch.Register(models.SourceBruvi, responder.Func(func(context.Context, []models.Turn) (responder.Reply, error) {
		bruviCalls++
		return responder.Reply{Text: "X"}, nil
	}))
	s, rec := openSession(t, store, orch)

	// switching away from a working source must not keep answering with it
	s.SetResponseSource("assistant/unknown")
	err := s.Send(context.Background(), "hi")

	var cerr *orchestrator.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	var unknown *models.UnknownSourceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "assistant/unknown", unknown.Value)

	assert.Equal(t, 1, store.count())
	assert.Zero(t, bruviCalls)
	assert.Equal(t, []string{"source assistant/unknown is not supported yet"}, alertTexts(rec))
	assert.False(t, s.Snapshot().Sending)
}

func TestConfigurationErrorRaisesAlert(t *testing.T) {
	store := newMemStore(t)
	orch := orchFunc(func(ctx context.Context, source models.Source, history []models.Message) (*models.Message, error) {
		return nil, &orchestrator.ConfigurationError{Source: source}
	})
	s, rec := openSession(t, store, orch)
	s.SetResponseSource(models.SourceOpenAI)

	err := s.Send(context.Background(), "hi")

	var cerr *orchestrator.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, store.count())
	assert.False(t, s.Snapshot().Sending)

	assert.Equal(t, []string{"source assistant/openai is not supported yet"}, alertTexts(rec))
}

func TestProviderErrorIsOnlyLogged(t *testing.T) {
	store := newMemStore(t)
	orch := orchFunc(func(ctx context.Context, source models.Source, history []models.Message) (*models.Message, error) {
		return nil, &responder.ProviderError{Provider: "bruvi", StatusCode: 502, Err: errors.New("bad gateway")}
	})
	s, rec := openSession(t, store, orch)

	err := s.Send(context.Background(), "hi")

	var perr *responder.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Zero(t, rec.count(EventAlert))
	assert.False(t, s.Snapshot().Sending)
	assert.Equal(t, 1, store.count())
}

func TestInsertFailureResetsSending(t *testing.T) {
	store := newMemStore(t)
	called := false
	orch := orchFunc(func(context.Context, models.Source, []models.Message) (*models.Message, error) {
		called = true
		return nil, nil
	})
	s, rec := openSession(t, store, orch)
	store.insertErr = errors.New("insert failed")

	assert.Error(t, s.Send(context.Background(), "hi"))
	assert.False(t, called)
	assert.False(t, s.Snapshot().Sending)
	assert.Zero(t, rec.count(EventInputCleared))
	assert.Equal(t, 1, rec.count(EventAlert))
}

func TestClearAll(t *testing.T) {
	store := newMemStore(t)
	s, rec := openSession(t, store, noReply)
	require.NoError(t, s.Send(context.Background(), "hi"))

	require.NoError(t, s.ClearAll(context.Background()))

	assert.Empty(t, s.Snapshot().Messages)
	assert.Zero(t, store.count())
	assert.Equal(t, 1, rec.count(EventCleared))
}

func TestClearAllFailureKeepsList(t *testing.T) {
	store := newMemStore(t)
	s, rec := openSession(t, store, noReply)
	require.NoError(t, s.Send(context.Background(), "hi"))
	store.deleteErr = errors.New("delete failed")

	assert.Error(t, s.ClearAll(context.Background()))

	assert.Len(t, s.Snapshot().Messages, 1)
	assert.Zero(t, rec.count(EventCleared))
	assert.Equal(t, 1, rec.count(EventAlert))
}

func TestClearAllDropsLateEchoes(t *testing.T) {
	store := newMemStore(t)
	s, _ := openSession(t, store, noReply)
	require.NoError(t, s.Send(context.Background(), "before"))
	before := s.Snapshot().Messages[0]

	require.NoError(t, s.ClearAll(context.Background()))

	// the feed delivers the pre-clear row after the clear settled
	assert.False(t, s.merge(before))
	assert.Empty(t, s.Snapshot().Messages)

	require.NoError(t, s.Send(context.Background(), "after"))
	messages := s.Snapshot().Messages
	require.Len(t, messages, 1)
	assert.Equal(t, "after", messages[0].Text)
}

func TestFeedLossRaisesAlert(t *testing.T) {
	store := newMemStore(t)
	s, rec := openSession(t, store, noReply)

	store.broker.Close()

	require.Eventually(t, func() bool { return rec.count(EventAlert) == 1 }, waitFor, tick)
	assert.Equal(t, []string{FeedLostAlert}, alertTexts(rec))

	// closing afterwards stays quiet
	s.Close()
	assert.Equal(t, 1, rec.count(EventAlert))
}

func TestClosedSessionIgnoresFeed(t *testing.T) {
	store := newMemStore(t)
	s, rec := openSession(t, store, noReply)
	s.Close()

	_, err := store.Insert(context.Background(), models.NewMessage{Text: "late", Source: models.SourceHuman})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, s.Snapshot().Messages)
	assert.Zero(t, rec.count(EventMessage))
	assert.ErrorIs(t, s.Send(context.Background(), "hi"), ErrClosed)

	// second close is a no-op
	s.Close()
}

func TestFactoryAppliesDefaults(t *testing.T) {
	store := newMemStore(t)
	for i := 0; i < 5; i++ {
		_, err := store.Insert(context.Background(), models.NewMessage{Text: "m", Source: models.SourceCustomer})
		require.NoError(t, err)
	}

	f := NewFactory(store, noReply, 3, logger.Nop())
	var events []EventType
	s := f.New(Config{InputSource: models.SourceHuman, ResponseSource: models.SourceNull},
		NotifierFunc(func(e Event) { events = append(events, e.Type) }), "test-session")
	require.NoError(t, s.Open(context.Background()))
	defer s.Close()

	assert.Equal(t, []uint{3, 4, 5}, ids(s.Snapshot().Messages))
	assert.Equal(t, []EventType{EventHistory}, events)
}
