// Package feed delivers newly inserted chat messages to every subscribed
// session, in the order the store committed them.
package feed

import (
	"context"
	"errors"
	"sync"

	"realtime-chat/backend/internal/models"
)

// ErrClosed is returned when publishing to or subscribing on a closed feed
var ErrClosed = errors.New("feed closed")

// Publisher pushes an inserted row onto the feed
type Publisher interface {
	Publish(ctx context.Context, msg models.Message) error
}

// Subscriber opens a standing subscription to insert events
type Subscriber interface {
	Subscribe(ctx context.Context) (*Subscription, error)
}

// Feed is a change-feed transport
type Feed interface {
	Publisher
	Subscriber
	Close() error
}

// Subscription is a scoped handle on the feed. Events is closed once the
// subscription ends, either through Close or because the feed went away.
type Subscription struct {
	events  chan models.Message
	done    chan struct{}
	once    sync.Once
	onClose func()
}

func newSubscription(bufferSize int) *Subscription {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Subscription{
		events: make(chan models.Message, bufferSize),
		done:   make(chan struct{}),
	}
}

// Events yields one value per inserted message
func (s *Subscription) Events() <-chan models.Message {
	return s.events
}

// Done is closed when Close has been called
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}
