package models

import "time"

// Message is the persisted record. Messages are append-only and immutable
// once created.
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID int64     `db:"conversation_id" json:"conversationId"`
	SenderID       int64     `db:"sender_id" json:"senderId"`
	Content        string    `db:"content" json:"content"`
	Attachment     string    `db:"attachment" json:"attachment,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// MessageSender identifies the author on an enriched message payload.
type MessageSender struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// MessageView is the enriched message payload broadcast to rooms and
// returned from history queries.
type MessageView struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversationId"`
	Sender         MessageSender `json:"sender"`
	Content        string        `json:"content"`
	Attachment     string        `json:"attachment,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}
