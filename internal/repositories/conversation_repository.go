package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	FindDirect(ctx context.Context, a, b int64) (*models.Conversation, error)
	CreateDirect(ctx context.Context, a, b int64) (models.Conversation, bool, error)
	CreateGroup(ctx context.Context, name, avatar string, participants []int64, createdBy int64) (models.Conversation, error)
	GetByID(ctx context.Context, id int64) (models.Conversation, error)
	Participants(ctx context.Context, conversationID int64) ([]models.Participant, error)
	ListForUser(ctx context.Context, userID int64) ([]models.ConversationView, error)
	ListIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	TouchLastMessage(ctx context.Context, conversationID, messageID int64, ts time.Time) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// directKey is the unordered-pair identity of a direct conversation. Both
// orderings of the same pair produce the same key, which is what makes the
// lookup symmetric and the UNIQUE constraint race-proof.
func directKey(a, b int64) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// FindDirect returns the direct conversation between the unordered pair, or
// nil when none exists.
func (r *ConversationRepo) FindDirect(ctx context.Context, a, b int64) (*models.Conversation, error) {
	var c models.Conversation
	err := r.db.GetContext(ctx, &c,
		`SELECT id, type, name, avatar, created_by, last_message_id, created_at, updated_at
         FROM conversations WHERE type='direct' AND direct_key=$1`, directKey(a, b))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateDirect creates the direct conversation for the pair, or returns the
// existing one when another caller won the race. The bool reports whether a
// new record was created.
func (r *ConversationRepo) CreateDirect(ctx context.Context, a, b int64) (models.Conversation, bool, error) {
	key := directKey(a, b)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer tx.Rollback()

	var c models.Conversation
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO conversations (type, direct_key) VALUES ('direct', $1)
         ON CONFLICT (direct_key) DO NOTHING
         RETURNING id, type, name, avatar, created_by, last_message_id, created_at, updated_at`,
		key).StructScan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race; hand back the winner's row.
		if err := tx.GetContext(ctx, &c,
			`SELECT id, type, name, avatar, created_by, last_message_id, created_at, updated_at
             FROM conversations WHERE direct_key=$1`, key); err != nil {
			return models.Conversation{}, false, err
		}
		return c, false, tx.Commit()
	}
	if err != nil {
		return models.Conversation{}, false, err
	}

	for i, uid := range []int64{a, b} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, position) VALUES ($1, $2, $3)`,
			c.ID, uid, i); err != nil {
			return models.Conversation{}, false, err
		}
	}
	return c, true, tx.Commit()
}

// CreateGroup creates a group conversation. The caller has already
// validated the name and participant count; participants[0] is recorded as
// the creator.
func (r *ConversationRepo) CreateGroup(ctx context.Context, name, avatar string, participants []int64, createdBy int64) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	var c models.Conversation
	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO conversations (type, name, avatar, created_by) VALUES ('group', $1, $2, $3)
         RETURNING id, type, name, avatar, created_by, last_message_id, created_at, updated_at`,
		name, avatar, createdBy).StructScan(&c); err != nil {
		return models.Conversation{}, err
	}

	for i, uid := range participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, position) VALUES ($1, $2, $3)
             ON CONFLICT DO NOTHING`,
			c.ID, uid, i); err != nil {
			return models.Conversation{}, err
		}
	}
	return c, tx.Commit()
}

// GetByID fetches a conversation by id.
func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (models.Conversation, error) {
	var c models.Conversation
	err := r.db.GetContext(ctx, &c,
		`SELECT id, type, name, avatar, created_by, last_message_id, created_at, updated_at
         FROM conversations WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return c, err
}

// Participants returns the resolved participant records in creation order.
func (r *ConversationRepo) Participants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	participants := []models.Participant{}
	err := r.db.SelectContext(ctx, &participants,
		`SELECT u.id, u.name, u.email, u.avatar
         FROM conversation_participants cp
         JOIN users u ON u.id = cp.user_id
         WHERE cp.conversation_id=$1
         ORDER BY cp.position`, conversationID)
	return participants, err
}

// ListIDsForUser returns ids of every conversation the user participates
// in; used to re-derive room membership when a connection comes up.
func (r *ConversationRepo) ListIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	ids := []int64{}
	err := r.db.SelectContext(ctx, &ids,
		`SELECT conversation_id FROM conversation_participants WHERE user_id=$1`, userID)
	return ids, err
}

// ListForUser returns the user's conversations ordered by update time
// descending, with participants and the last message resolved inline.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64) ([]models.ConversationView, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs,
		`SELECT c.id, c.type, c.name, c.avatar, c.created_by, c.last_message_id, c.created_at, c.updated_at
         FROM conversations c
         JOIN conversation_participants cp ON cp.conversation_id = c.id
         WHERE cp.user_id=$1
         ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []models.ConversationView{}, nil
	}

	convIDs := make([]int64, 0, len(convs))
	msgIDs := make([]int64, 0, len(convs))
	for _, c := range convs {
		convIDs = append(convIDs, c.ID)
		if c.LastMessageID != nil {
			msgIDs = append(msgIDs, *c.LastMessageID)
		}
	}

	type participantRow struct {
		ConversationID int64  `db:"conversation_id"`
		ID             int64  `db:"id"`
		Name           string `db:"name"`
		Email          string `db:"email"`
		Avatar         string `db:"avatar"`
	}
	var prows []participantRow
	if err := r.db.SelectContext(ctx, &prows,
		`SELECT cp.conversation_id, u.id, u.name, u.email, u.avatar
         FROM conversation_participants cp
         JOIN users u ON u.id = cp.user_id
         WHERE cp.conversation_id = ANY($1)
         ORDER BY cp.conversation_id, cp.position`, pq.Array(convIDs)); err != nil {
		return nil, err
	}
	participantsByConv := map[int64][]models.Participant{}
	for _, p := range prows {
		participantsByConv[p.ConversationID] = append(participantsByConv[p.ConversationID],
			models.Participant{ID: p.ID, Name: p.Name, Email: p.Email, Avatar: p.Avatar})
	}

	lastByID := map[int64]models.Message{}
	if len(msgIDs) > 0 {
		var msgs []models.Message
		if err := r.db.SelectContext(ctx, &msgs,
			`SELECT id, conversation_id, sender_id, content, attachment, created_at
             FROM messages WHERE id = ANY($1)`, pq.Array(msgIDs)); err != nil {
			return nil, err
		}
		for _, m := range msgs {
			lastByID[m.ID] = m
		}
	}

	views := make([]models.ConversationView, 0, len(convs))
	for _, c := range convs {
		view := models.ConversationView{
			ID:           c.ID,
			Type:         c.Type,
			Name:         c.Name,
			Avatar:       c.Avatar,
			CreatedBy:    c.CreatedBy,
			Participants: participantsByConv[c.ID],
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		}
		if c.LastMessageID != nil {
			if m, ok := lastByID[*c.LastMessageID]; ok {
				view.LastMessage = &models.LastMessageSummary{
					ID:         m.ID,
					Content:    m.Content,
					SenderID:   m.SenderID,
					Attachment: m.Attachment,
					CreatedAt:  m.CreatedAt,
				}
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// TouchLastMessage moves the last-message pointer and refreshes the update
// timestamp. Runs after every successful persist; callers fire it without
// blocking the broadcast.
func (r *ConversationRepo) TouchLastMessage(ctx context.Context, conversationID, messageID int64, ts time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_id=$2, updated_at=$3 WHERE id=$1`,
		conversationID, messageID, ts)
	return err
}
