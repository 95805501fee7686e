package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messenger-service/internal/models"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) Create(ctx context.Context, u *models.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *UserRepositoryMock) GetByID(ctx context.Context, id int64) (models.User, error) {
	args := m.Called(ctx, id)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) ListContacts(ctx context.Context, excludeID int64) ([]models.Contact, error) {
	args := m.Called(ctx, excludeID)
	var contacts []models.Contact
	if val := args.Get(0); val != nil {
		contacts = val.([]models.Contact)
	}
	return contacts, args.Error(1)
}

func (m *UserRepositoryMock) UpdateProfile(ctx context.Context, id int64, name, avatar string) (models.User, error) {
	args := m.Called(ctx, id, name, avatar)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) FindDirect(ctx context.Context, a, b int64) (*models.Conversation, error) {
	args := m.Called(ctx, a, b)
	var conv *models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(*models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) CreateDirect(ctx context.Context, a, b int64) (models.Conversation, bool, error) {
	args := m.Called(ctx, a, b)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) CreateGroup(ctx context.Context, name, avatar string, participants []int64, createdBy int64) (models.Conversation, error) {
	args := m.Called(ctx, name, avatar, participants, createdBy)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetByID(ctx context.Context, id int64) (models.Conversation, error) {
	args := m.Called(ctx, id)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) Participants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	args := m.Called(ctx, conversationID)
	var participants []models.Participant
	if val := args.Get(0); val != nil {
		participants = val.([]models.Participant)
	}
	return participants, args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID int64) ([]models.ConversationView, error) {
	args := m.Called(ctx, userID)
	var views []models.ConversationView
	if val := args.Get(0); val != nil {
		views = val.([]models.ConversationView)
	}
	return views, args.Error(1)
}

func (m *ConversationRepositoryMock) ListIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) TouchLastMessage(ctx context.Context, conversationID, messageID int64, ts time.Time) error {
	args := m.Called(ctx, conversationID, messageID, ts)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, conversationID, senderID int64, content, attachment string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, content, attachment)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListForConversation(ctx context.Context, conversationID int64) ([]models.MessageView, error) {
	args := m.Called(ctx, conversationID)
	var views []models.MessageView
	if val := args.Get(0); val != nil {
		views = val.([]models.MessageView)
	}
	return views, args.Error(1)
}
