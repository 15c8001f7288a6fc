package feed

import (
	"context"
	"sync"

	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/pkg/logger"
)

// Broker is the in-process change-feed. A single run loop owns the
// subscriber set, so registration, removal and fan-out never race.
type Broker struct {
	subscribers map[*Subscription]bool
	broadcast   chan models.Message
	register    chan *Subscription
	unregister  chan *Subscription
	done        chan struct{}
	closeOnce   sync.Once
	bufferSize  int
	log         *logger.Logger
}

// NewBroker creates a broker and starts its run loop
func NewBroker(bufferSize int, log *logger.Logger) *Broker {
	if log == nil {
		log = logger.GetGlobal()
	}
	b := &Broker{
		subscribers: make(map[*Subscription]bool),
		broadcast:   make(chan models.Message),
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		done:        make(chan struct{}),
		bufferSize:  bufferSize,
		log:         log,
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	for {
		select {
		case sub := <-b.register:
			b.subscribers[sub] = true
			b.log.Debug("Feed subscriber registered", "subscribers", len(b.subscribers))

		case sub := <-b.unregister:
			if _, ok := b.subscribers[sub]; ok {
				delete(b.subscribers, sub)
				close(sub.events)
				b.log.Debug("Feed subscriber removed", "subscribers", len(b.subscribers))
			}

		case msg := <-b.broadcast:
			for sub := range b.subscribers {
				select {
				case sub.events <- msg:
				default:
					delete(b.subscribers, sub)
					close(sub.events)
					b.log.Warn("Feed subscriber dropped due to full buffer", "message_id", msg.ID)
				}
			}

		case <-b.done:
			for sub := range b.subscribers {
				delete(b.subscribers, sub)
				close(sub.events)
			}
			return
		}
	}
}

// Publish fans the message out to every current subscriber
func (b *Broker) Publish(ctx context.Context, msg models.Message) error {
	select {
	case b.broadcast <- msg:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a new subscriber. Messages published after Subscribe
// returns are guaranteed to be delivered to it.
func (b *Broker) Subscribe(ctx context.Context) (*Subscription, error) {
	sub := newSubscription(b.bufferSize)
	sub.onClose = func() {
		select {
		case b.unregister <- sub:
		case <-b.done:
		}
	}

	select {
	case b.register <- sub:
		return sub, nil
	case <-b.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the run loop and ends every open subscription
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	return nil
}
