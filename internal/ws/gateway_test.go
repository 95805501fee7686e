package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/security"
)

type wireEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Msg     string          `json:"msg"`
}

type wireFrame struct {
	Event string       `json:"event"`
	Data  wireEnvelope `json:"data"`
}

func newTestGateway(t *testing.T) (*httptest.Server, *Hub, *security.TokenService, *mocks.UserRepositoryMock, *mocks.ConversationRepositoryMock, *mocks.MessageRepositoryMock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := new(mocks.UserRepositoryMock)
	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)

	hub := NewHub()
	tokens := security.NewTokenService("test-secret", time.Hour)
	gateway := NewGateway(hub, tokens, users, conversations, messages, nil, nil)

	router := gin.New()
	router.GET("/ws", gateway.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, hub, tokens, users, conversations, messages
}

func issueToken(t *testing.T, tokens *security.TokenService, id int64, name string) string {
	t.Helper()
	token, err := tokens.IssueForUser(&models.User{ID: id, Name: name, Email: name + "@example.com"})
	require.NoError(t, err)
	return token
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame := models.Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		frame.Data = data
	}
	require.NoError(t, conn.WriteJSON(frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame wireFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// waitForConnections blocks until the hub sees n connections for the
// user; the server finishes registration after the client's dial returns.
func waitForConnections(t *testing.T, hub *Hub, userID int64, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.UserConnections(userID) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %d never reached %d connections", userID, n)
}

func TestHandshakeRejectsBadCredential(t *testing.T) {
	srv, _, _, _, _, _ := newTestGateway(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=not-a-token", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestGetConversations(t *testing.T) {
	srv, _, tokens, _, conversations, _ := newTestGateway(t)

	conversations.On("ListIDsForUser", mock.Anything, int64(1)).Return([]int64{}, nil)
	conversations.On("ListForUser", mock.Anything, int64(1)).Return([]models.ConversationView{
		{ID: 9, Type: models.ConversationGroup, Name: "team"},
	}, nil)

	conn := dialWS(t, srv, issueToken(t, tokens, 1, "alice"))
	sendFrame(t, conn, models.EventGetConversations, nil)

	frame := readFrame(t, conn)
	require.Equal(t, models.EventGetConversations, frame.Event)
	require.True(t, frame.Data.Success)

	var views []models.ConversationView
	require.NoError(t, json.Unmarshal(frame.Data.Data, &views))
	require.Len(t, views, 1)
	require.Equal(t, "team", views[0].Name)
}

func TestNewConversationDirectBroadcast(t *testing.T) {
	srv, hub, tokens, _, conversations, _ := newTestGateway(t)

	conversations.On("ListIDsForUser", mock.Anything, mock.Anything).Return([]int64{}, nil)
	conversations.On("FindDirect", mock.Anything, int64(1), int64(2)).Return(nil, nil)
	conversations.On("CreateDirect", mock.Anything, int64(1), int64(2)).
		Return(models.Conversation{ID: 5, Type: models.ConversationDirect}, true, nil)
	conversations.On("Participants", mock.Anything, int64(5)).Return([]models.Participant{
		{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"},
	}, nil)

	alice := dialWS(t, srv, issueToken(t, tokens, 1, "alice"))
	bob := dialWS(t, srv, issueToken(t, tokens, 2, "bob"))
	waitForConnections(t, hub, 1, 1)
	waitForConnections(t, hub, 2, 1)

	sendFrame(t, alice, models.EventNewConversation, models.NewConversationRequest{
		Type:         models.ConversationDirect,
		Participants: []int64{1, 2},
	})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		require.Equal(t, models.EventNewConversation, frame.Event)
		require.True(t, frame.Data.Success)

		var view models.ConversationView
		require.NoError(t, json.Unmarshal(frame.Data.Data, &view))
		require.Equal(t, int64(5), view.ID)
		require.True(t, view.IsNew)
		require.Len(t, view.Participants, 2)
	}
	require.Equal(t, 2, hub.RoomSize(5))
}

func TestNewConversationDirectReused(t *testing.T) {
	srv, hub, tokens, _, conversations, _ := newTestGateway(t)

	existing := &models.Conversation{ID: 5, Type: models.ConversationDirect}
	conversations.On("ListIDsForUser", mock.Anything, mock.Anything).Return([]int64{}, nil)
	conversations.On("FindDirect", mock.Anything, int64(1), int64(2)).Return(existing, nil)
	conversations.On("Participants", mock.Anything, int64(5)).Return([]models.Participant{
		{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"},
	}, nil)

	alice := dialWS(t, srv, issueToken(t, tokens, 1, "alice"))
	bob := dialWS(t, srv, issueToken(t, tokens, 2, "bob"))
	waitForConnections(t, hub, 1, 1)
	waitForConnections(t, hub, 2, 1)

	sendFrame(t, alice, models.EventNewConversation, models.NewConversationRequest{
		Type:         models.ConversationDirect,
		Participants: []int64{1, 2},
	})

	frame := readFrame(t, alice)
	require.True(t, frame.Data.Success)
	var view models.ConversationView
	require.NoError(t, json.Unmarshal(frame.Data.Data, &view))
	require.False(t, view.IsNew)

	// The other participant must not hear about a reused conversation.
	require.NoError(t, bob.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var stray wireFrame
	require.Error(t, bob.ReadJSON(&stray))

	conversations.AssertNotCalled(t, "CreateDirect", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewConversationGroupValidation(t *testing.T) {
	srv, _, tokens, _, conversations, _ := newTestGateway(t)
	conversations.On("ListIDsForUser", mock.Anything, int64(1)).Return([]int64{}, nil)

	conn := dialWS(t, srv, issueToken(t, tokens, 1, "alice"))

	sendFrame(t, conn, models.EventNewConversation, models.NewConversationRequest{
		Type:         models.ConversationGroup,
		Participants: []int64{1, 2, 3},
	})
	frame := readFrame(t, conn)
	require.False(t, frame.Data.Success)
	require.Equal(t, models.ErrMissingName.Error(), frame.Data.Msg)

	sendFrame(t, conn, models.EventNewConversation, models.NewConversationRequest{
		Type:         models.ConversationGroup,
		Name:         "trio",
		Participants: []int64{1, 2},
	})
	frame = readFrame(t, conn)
	require.False(t, frame.Data.Success)
	require.Equal(t, models.ErrInsufficientParticipants.Error(), frame.Data.Msg)
}

func TestNewMessageBroadcastAndTouch(t *testing.T) {
	srv, hub, tokens, _, conversations, messages := newTestGateway(t)

	now := time.Now().UTC().Truncate(time.Second)
	touched := make(chan struct{})

	conversations.On("ListIDsForUser", mock.Anything, mock.Anything).Return([]int64{5}, nil)
	conversations.On("GetByID", mock.Anything, int64(5)).
		Return(models.Conversation{ID: 5, Type: models.ConversationDirect}, nil)
	conversations.On("TouchLastMessage", mock.Anything, int64(5), int64(11), now).
		Run(func(mock.Arguments) { close(touched) }).Return(nil)
	messages.On("Create", mock.Anything, int64(5), int64(1), "hi", "").
		Return(models.Message{ID: 11, ConversationID: 5, SenderID: 1, Content: "hi", CreatedAt: now}, nil)

	alice := dialWS(t, srv, issueToken(t, tokens, 1, "alice"))
	bob := dialWS(t, srv, issueToken(t, tokens, 2, "bob"))
	waitForConnections(t, hub, 1, 1)
	waitForConnections(t, hub, 2, 1)

	sendFrame(t, alice, models.EventNewMessage, models.NewMessageRequest{
		ConversationID: 5,
		Sender:         models.MessageSender{ID: 1, Name: "alice", Avatar: "a.png"},
		Content:        "hi",
	})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		require.Equal(t, models.EventNewMessage, frame.Event)
		require.True(t, frame.Data.Success)

		var view models.MessageView
		require.NoError(t, json.Unmarshal(frame.Data.Data, &view))
		require.Equal(t, int64(11), view.ID)
		require.Equal(t, "alice", view.Sender.Name)
		require.Equal(t, "hi", view.Content)
	}

	select {
	case <-touched:
	case <-time.After(2 * time.Second):
		t.Fatal("last message was never touched")
	}
}

func TestNewMessageValidation(t *testing.T) {
	srv, _, tokens, _, conversations, _ := newTestGateway(t)

	conversations.On("ListIDsForUser", mock.Anything, int64(1)).Return([]int64{}, nil)
	conversations.On("GetByID", mock.Anything, int64(99)).
		Return(models.Conversation{}, repositories.ErrConversationNotFound)

	conn := dialWS(t, srv, issueToken(t, tokens, 1, "alice"))

	cases := []struct {
		req models.NewMessageRequest
		msg string
	}{
		{models.NewMessageRequest{Sender: models.MessageSender{ID: 1}, Content: "hi"}, models.ErrMissingConversation.Error()},
		{models.NewMessageRequest{ConversationID: 5, Content: "hi"}, models.ErrMissingSender.Error()},
		{models.NewMessageRequest{ConversationID: 5, Sender: models.MessageSender{ID: 1}}, models.ErrEmptyMessage.Error()},
		{models.NewMessageRequest{ConversationID: 99, Sender: models.MessageSender{ID: 1}, Content: "hi"}, models.ErrUnknownConversation.Error()},
	}
	for _, tc := range cases {
		sendFrame(t, conn, models.EventNewMessage, tc.req)
		frame := readFrame(t, conn)
		require.False(t, frame.Data.Success)
		require.Equal(t, tc.msg, frame.Data.Msg)
	}
}

func TestGetMessages(t *testing.T) {
	srv, _, tokens, _, conversations, messages := newTestGateway(t)

	conversations.On("ListIDsForUser", mock.Anything, int64(1)).Return([]int64{5}, nil)
	messages.On("ListForConversation", mock.Anything, int64(5)).Return([]models.MessageView{
		{ID: 10, ConversationID: 5, Content: "first", Sender: models.MessageSender{ID: 1, Name: "alice"}},
		{ID: 11, ConversationID: 5, Content: "second", Sender: models.MessageSender{ID: 2, Name: "bob"}},
	}, nil)

	conn := dialWS(t, srv, issueToken(t, tokens, 1, "alice"))
	sendFrame(t, conn, models.EventGetMessages, models.GetMessagesRequest{ConversationID: 5})

	frame := readFrame(t, conn)
	require.Equal(t, models.EventGetMessages, frame.Event)
	require.True(t, frame.Data.Success)

	var views []models.MessageView
	require.NoError(t, json.Unmarshal(frame.Data.Data, &views))
	require.Len(t, views, 2)
	require.Equal(t, "first", views[0].Content)
	require.Equal(t, "second", views[1].Content)
}

func TestNewMessageReachesEveryDevice(t *testing.T) {
	srv, hub, tokens, _, conversations, messages := newTestGateway(t)

	conversations.On("ListIDsForUser", mock.Anything, int64(1)).Return([]int64{5}, nil)
	conversations.On("GetByID", mock.Anything, int64(5)).
		Return(models.Conversation{ID: 5, Type: models.ConversationDirect}, nil)
	conversations.On("TouchLastMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	messages.On("Create", mock.Anything, int64(5), int64(1), "ping", "").
		Return(models.Message{ID: 12, ConversationID: 5, SenderID: 1, Content: "ping"}, nil)

	token := issueToken(t, tokens, 1, "alice")
	phone := dialWS(t, srv, token)
	laptop := dialWS(t, srv, token)
	waitForConnections(t, hub, 1, 2)

	sendFrame(t, phone, models.EventNewMessage, models.NewMessageRequest{
		ConversationID: 5,
		Sender:         models.MessageSender{ID: 1, Name: "alice"},
		Content:        "ping",
	})

	for _, conn := range []*websocket.Conn{phone, laptop} {
		frame := readFrame(t, conn)
		require.Equal(t, models.EventNewMessage, frame.Event)
		require.True(t, frame.Data.Success)
	}
}

func TestGetContacts(t *testing.T) {
	srv, _, tokens, users, conversations, _ := newTestGateway(t)

	conversations.On("ListIDsForUser", mock.Anything, int64(1)).Return([]int64{}, nil)
	users.On("ListContacts", mock.Anything, int64(1)).Return([]models.Contact{
		{ID: 2, Name: "bob", Email: "bob@example.com"},
	}, nil)

	conn := dialWS(t, srv, issueToken(t, tokens, 1, "alice"))
	sendFrame(t, conn, models.EventGetContacts, nil)

	frame := readFrame(t, conn)
	require.True(t, frame.Data.Success)

	var contacts []models.Contact
	require.NoError(t, json.Unmarshal(frame.Data.Data, &contacts))
	require.Len(t, contacts, 1)
	require.Equal(t, "bob", contacts[0].Name)
}

func TestUpdateProfileReissuesCredential(t *testing.T) {
	srv, _, tokens, users, conversations, _ := newTestGateway(t)

	conversations.On("ListIDsForUser", mock.Anything, int64(1)).Return([]int64{}, nil)
	users.On("UpdateProfile", mock.Anything, int64(1), "neo", "").
		Return(models.User{ID: 1, Name: "neo", Email: "alice@example.com"}, nil)

	conn := dialWS(t, srv, issueToken(t, tokens, 1, "alice"))
	sendFrame(t, conn, models.EventUpdateProfile, models.UpdateProfileRequest{Name: "neo"})

	frame := readFrame(t, conn)
	require.Equal(t, models.EventUpdateProfile, frame.Event)
	require.True(t, frame.Data.Success)

	var update models.ProfileUpdate
	require.NoError(t, json.Unmarshal(frame.Data.Data, &update))
	require.Equal(t, "neo", update.User.Name)
	require.NotEmpty(t, update.Token)

	claims, err := tokens.Verify(update.Token)
	require.NoError(t, err)
	require.Equal(t, "neo", claims.Name)
}

func TestDedupeIDs(t *testing.T) {
	got := dedupeIDs([]int64{3, 1, 3, 0, 2, 1})
	require.Equal(t, []int64{3, 1, 2}, got)
}
