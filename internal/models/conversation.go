package models

import "time"

// Conversation types.
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Conversation is the persisted record. Direct conversations have exactly
// two participants and no name; group conversations are named and record
// their creator.
type Conversation struct {
	ID            int64     `db:"id" json:"id"`
	Type          string    `db:"type" json:"type"`
	Name          string    `db:"name" json:"name,omitempty"`
	Avatar        string    `db:"avatar" json:"avatar,omitempty"`
	CreatedBy     int64     `db:"created_by" json:"createdBy,omitempty"`
	LastMessageID *int64    `db:"last_message_id" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// LastMessageSummary is the denormalized most-recent-message view resolved
// on conversation listings.
type LastMessageSummary struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	SenderID   int64     `json:"senderId"`
	Attachment string    `json:"attachment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConversationView is the enriched conversation payload sent to clients:
// participants and last message resolved inline rather than as bare ids.
type ConversationView struct {
	ID           int64               `json:"id"`
	Type         string              `json:"type"`
	Name         string              `json:"name,omitempty"`
	Avatar       string              `json:"avatar,omitempty"`
	CreatedBy    int64               `json:"createdBy,omitempty"`
	Participants []Participant       `json:"participants"`
	LastMessage  *LastMessageSummary `json:"lastMessage,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
	IsNew        bool                `json:"isNew"`
}
