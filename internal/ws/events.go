package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

func (g *Gateway) handleGetConversations(ctx context.Context, client *Client) error {
	views, err := g.conversations.ListForUser(ctx, client.Info.UserID)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	return client.Emit(models.EventGetConversations, models.OK(views))
}

func (g *Gateway) handleNewConversation(ctx context.Context, client *Client, data json.RawMessage) error {
	var req models.NewConversationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errBadPayload
	}
	participants := dedupeIDs(req.Participants)

	var (
		conv  models.Conversation
		isNew bool
	)
	switch req.Type {
	case models.ConversationDirect:
		if len(participants) != 2 {
			return models.ErrDirectPair
		}
		existing, err := g.conversations.FindDirect(ctx, participants[0], participants[1])
		if err != nil {
			return fmt.Errorf("find direct conversation: %w", err)
		}
		if existing != nil {
			conv, isNew = *existing, false
			break
		}
		// The unique pair key makes the create race-safe; a concurrent
		// creator simply hands us the winning row with isNew=false.
		conv, isNew, err = g.conversations.CreateDirect(ctx, participants[0], participants[1])
		if err != nil {
			return fmt.Errorf("create direct conversation: %w", err)
		}
	case models.ConversationGroup:
		if strings.TrimSpace(req.Name) == "" {
			return models.ErrMissingName
		}
		if len(participants) < 3 {
			return models.ErrInsufficientParticipants
		}
		created, err := g.conversations.CreateGroup(ctx, req.Name, req.Avatar, participants, participants[0])
		if err != nil {
			return fmt.Errorf("create group conversation: %w", err)
		}
		conv, isNew = created, true
	default:
		return models.ErrUnsupportedType
	}

	view, err := g.conversationView(ctx, conv, isNew)
	if err != nil {
		return err
	}

	if !isNew {
		// Reused conversation: only the requester hears about it.
		return client.Emit(models.EventNewConversation, models.OK(view))
	}

	// Join every connected participant to the new room before the
	// broadcast so nobody misses the announcement.
	members := g.hub.ConnectionsForUsers(participants)
	g.hub.JoinRoom(members, conv.ID)
	g.hub.EmitToRoom(conv.ID, models.EventNewConversation, models.OK(view))
	return nil
}

func (g *Gateway) handleNewMessage(ctx context.Context, client *Client, data json.RawMessage) error {
	var req models.NewMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errBadPayload
	}
	if req.ConversationID == 0 {
		return models.ErrMissingConversation
	}
	if req.Sender.ID == 0 {
		return models.ErrMissingSender
	}
	if req.Content == "" && req.Attachment == "" {
		return models.ErrEmptyMessage
	}
	if _, err := g.conversations.GetByID(ctx, req.ConversationID); err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return models.ErrUnknownConversation
		}
		return fmt.Errorf("resolve conversation: %w", err)
	}

	msg, err := g.messages.Create(ctx, req.ConversationID, req.Sender.ID, req.Content, req.Attachment)
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	// Sender name/avatar ride along on the request so the broadcast
	// never blocks on a store lookup.
	view := models.MessageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         req.Sender,
		Content:        msg.Content,
		Attachment:     msg.Attachment,
		CreatedAt:      msg.CreatedAt,
	}
	g.hub.EmitToRoom(req.ConversationID, models.EventNewMessage, models.OK(view))

	// Last-message bookkeeping is decoupled from delivery; a failure
	// here never surfaces to the sender.
	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.conversations.TouchLastMessage(touchCtx, msg.ConversationID, msg.ID, msg.CreatedAt); err != nil {
			log.Printf("touch last message conversation=%d: %v", msg.ConversationID, err)
		}
	}()
	return nil
}

func (g *Gateway) handleGetMessages(ctx context.Context, client *Client, data json.RawMessage) error {
	var req models.GetMessagesRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errBadPayload
	}
	if req.ConversationID == 0 {
		return models.ErrMissingConversation
	}
	views, err := g.messages.ListForConversation(ctx, req.ConversationID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	return client.Emit(models.EventGetMessages, models.OK(views))
}

func (g *Gateway) handleGetContacts(ctx context.Context, client *Client) error {
	contacts, err := g.users.ListContacts(ctx, client.Info.UserID)
	if err != nil {
		return fmt.Errorf("list contacts: %w", err)
	}
	return client.Emit(models.EventGetContacts, models.OK(contacts))
}

func (g *Gateway) handleUpdateProfile(ctx context.Context, client *Client, data json.RawMessage) error {
	var req models.UpdateProfileRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errBadPayload
	}

	user, err := g.users.UpdateProfile(ctx, client.Info.UserID, req.Name, req.Avatar)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("update profile: %w", err)
	}

	token, err := g.tokens.IssueForUser(&user)
	if err != nil {
		return fmt.Errorf("reissue credential: %w", err)
	}

	// Cached claims would otherwise go stale for the rest of the
	// connection's life. Safe to mutate: dispatch runs on the read loop.
	client.Info.Name = user.Name
	client.Info.Avatar = user.Avatar

	userID := client.Info.UserID
	g.audit.Emit(ctx, "INFO", "profile updated", client.Info.RequestID, &userID)

	return client.Emit(models.EventUpdateProfile, models.OK(models.ProfileUpdate{User: &user, Token: token}))
}

// conversationView resolves participants onto the conversation record.
func (g *Gateway) conversationView(ctx context.Context, conv models.Conversation, isNew bool) (models.ConversationView, error) {
	participants, err := g.conversations.Participants(ctx, conv.ID)
	if err != nil {
		return models.ConversationView{}, fmt.Errorf("resolve participants: %w", err)
	}
	return models.ConversationView{
		ID:           conv.ID,
		Type:         conv.Type,
		Name:         conv.Name,
		Avatar:       conv.Avatar,
		CreatedBy:    conv.CreatedBy,
		Participants: participants,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		IsNew:        isNew,
	}, nil
}

// dedupeIDs removes repeated and zero ids, preserving first-seen order.
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
