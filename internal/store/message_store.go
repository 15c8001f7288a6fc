// Package store is the message store client: every read and write of the
// shared chat log goes through MessageStore.
package store

import (
	"context"
	"fmt"

	"realtime-chat/backend/internal/feed"
	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/pkg/logger"
	"realtime-chat/backend/pkg/observability"

	"gorm.io/gorm"
)

// DefaultRecentLimit is the recent window used when callers pass no limit
const DefaultRecentLimit = 100

// StoreError wraps a failed store operation
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("message store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// MessageStore persists messages with gorm and announces inserts on a feed
type MessageStore struct {
	db          *gorm.DB
	feed        feed.Feed
	recentLimit int
	log         *logger.Logger
}

// NewMessageStore creates a store over db. Inserts are published to f.
func NewMessageStore(db *gorm.DB, f feed.Feed, recentLimit int, log *logger.Logger) *MessageStore {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &MessageStore{
		db:          db,
		feed:        f,
		recentLimit: recentLimit,
		log:         log,
	}
}

// Migrate creates the messages table
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Message{}); err != nil {
		return fmt.Errorf("failed to migrate messages: %w", err)
	}
	return nil
}

// FetchRecent returns the newest limit messages, oldest first
func (s *MessageStore) FetchRecent(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = s.recentLimit
	}

	var messages []models.Message
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, &StoreError{Op: "fetch", Err: err}
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Insert appends one message. The store assigns id and created_at.
func (s *MessageStore) Insert(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	msg := &models.Message{
		Text:       in.Text,
		Source:     in.Source,
		References: in.References,
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, &StoreError{Op: "insert", Err: err}
	}

	observability.RecordMessageInserted(ctx, msg.Source.String())

	if s.feed != nil {
		if err := s.feed.Publish(ctx, *msg); err != nil {
			s.log.LogError(err, "Failed to publish inserted message", "message_id", msg.ID)
		}
	}
	return msg, nil
}

// DeleteAll removes every row of the log
func (s *MessageStore) DeleteAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Where("id <> ?", 0).
		Delete(&models.Message{}).Error
	if err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// SubscribeToInserts opens a subscription on the change-feed
func (s *MessageStore) SubscribeToInserts(ctx context.Context) (*feed.Subscription, error) {
	if s.feed == nil {
		return nil, &StoreError{Op: "subscribe", Err: feed.ErrClosed}
	}
	return s.feed.Subscribe(ctx)
}

// Ping checks the underlying connection
func (s *MessageStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
