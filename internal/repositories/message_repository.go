package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

// MessageRepository abstracts message persistence.
type MessageRepository interface {
	Create(ctx context.Context, conversationID, senderID int64, content, attachment string) (models.Message, error)
	ListForConversation(ctx context.Context, conversationID int64) ([]models.MessageView, error)
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create appends a message to a conversation.
func (r *MessageRepo) Create(ctx context.Context, conversationID, senderID int64, content, attachment string) (models.Message, error) {
	var m models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content, attachment)
         VALUES ($1, $2, $3, $4)
         RETURNING id, conversation_id, sender_id, content, attachment, created_at`,
		conversationID, senderID, content, attachment).StructScan(&m)
	return m, err
}

// ListForConversation returns the full history ordered by creation time
// ascending, with sender name and avatar resolved.
func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID int64) ([]models.MessageView, error) {
	type row struct {
		ID             int64  `db:"id"`
		ConversationID int64  `db:"conversation_id"`
		SenderID       int64  `db:"sender_id"`
		SenderName     string `db:"sender_name"`
		SenderAvatar   string `db:"sender_avatar"`
		Content        string `db:"content"`
		Attachment     string `db:"attachment"`
		CreatedAt      time.Time `db:"created_at"`
	}
	var rows []row
	err := r.db.SelectContext(ctx, &rows,
		`SELECT m.id, m.conversation_id, m.sender_id, u.name AS sender_name, u.avatar AS sender_avatar,
                m.content, m.attachment, m.created_at
         FROM messages m
         JOIN users u ON u.id = m.sender_id
         WHERE m.conversation_id=$1
         ORDER BY m.created_at ASC, m.id ASC`, conversationID)
	if err != nil {
		return nil, err
	}

	views := make([]models.MessageView, 0, len(rows))
	for _, m := range rows {
		views = append(views, models.MessageView{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Sender:         models.MessageSender{ID: m.SenderID, Name: m.SenderName, Avatar: m.SenderAvatar},
			Content:        m.Content,
			Attachment:     m.Attachment,
			CreatedAt:      m.CreatedAt,
		})
	}
	return views, nil
}
