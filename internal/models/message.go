package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message represents one entry of the shared chat log
type Message struct {
	ID         uint                           `json:"id" gorm:"primaryKey"`
	Text       string                         `json:"text" gorm:"type:text;not null"`
	Source     Source                         `json:"source" gorm:"type:varchar(64);not null"`
	CreatedAt  time.Time                      `json:"created_at" gorm:"autoCreateTime;index"`
	References datatypes.JSONSlice[Reference] `json:"references,omitempty"`
}

// TableName pins the table name used by the change-feed and migrations
func (Message) TableName() string {
	return "messages"
}

// HasReferences reports whether the message carries citations
func (m Message) HasReferences() bool {
	return len(m.References) > 0
}

// Turn returns the projection of the message sent to responders
func (m Message) Turn() Turn {
	return Turn{Text: m.Text, Source: m.Source}
}

// Reference is a citation attached to a retrieval-augmented reply
type Reference struct {
	URL         string `json:"url"`
	PageTitle   string `json:"page_title"`
	TextSummary string `json:"text_summary"`
}

// NewMessage holds the client-supplied fields of an insert
type NewMessage struct {
	Text       string      `json:"text" binding:"required"`
	Source     Source      `json:"source" binding:"required"`
	References []Reference `json:"references,omitempty"`
}

// Turn is a single history entry as exchanged with inference endpoints
type Turn struct {
	Text   string `json:"text"`
	Source Source `json:"source"`
}

// Turns converts a message history into responder input
func Turns(messages []Message) []Turn {
	turns := make([]Turn, len(messages))
	for i, msg := range messages {
		turns[i] = msg.Turn()
	}
	return turns
}
