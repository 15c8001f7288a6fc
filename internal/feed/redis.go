package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisFeed carries insert events over redis pub/sub so that several
// server instances share one change-feed.
type RedisFeed struct {
	client     *redis.Client
	channel    string
	bufferSize int
	log        *logger.Logger
}

// NewRedisFeed builds a feed on an existing client. The caller owns the client.
func NewRedisFeed(client *redis.Client, channel string, bufferSize int, log *logger.Logger) *RedisFeed {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &RedisFeed{
		client:     client,
		channel:    channel,
		bufferSize: bufferSize,
		log:        log,
	}
}

// Publish encodes the message as JSON and publishes it on the feed channel
func (f *RedisFeed) Publish(ctx context.Context, msg models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode feed message: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish feed message: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed by redis, then
// forwards decoded messages until the subscription is closed.
func (f *RedisFeed) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := f.client.Subscribe(ctx, f.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", f.channel, err)
	}

	sub := newSubscription(f.bufferSize)
	go f.pump(ps, sub)
	return sub, nil
}

func (f *RedisFeed) pump(ps *redis.PubSub, sub *Subscription) {
	defer close(sub.events)
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var msg models.Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				f.log.LogError(err, "Discarding undecodable feed payload", "channel", raw.Channel)
				continue
			}
			select {
			case sub.events <- msg:
			case <-sub.done:
				return
			}
		case <-sub.done:
			return
		}
	}
}

// Close is a no-op; the redis client outlives the feed
func (f *RedisFeed) Close() error {
	return nil
}
