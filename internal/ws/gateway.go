package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
	"messenger-service/internal/security"
	"messenger-service/internal/telemetry"
)

// Gateway owns the websocket endpoint: it authenticates the handshake,
// registers the connection with the hub, and dispatches event frames to
// the per-event handlers.
type Gateway struct {
	hub           *Hub
	tokens        *security.TokenService
	users         repositories.UserRepository
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	audit         *telemetry.AuditEmitter
	upgrader      websocket.Upgrader
}

// NewGateway constructs a Gateway. allowedOrigins restricts the upgrade
// handshake; an empty list or "*" admits every origin.
func NewGateway(hub *Hub, tokens *security.TokenService, users repositories.UserRepository, conversations repositories.ConversationRepository, messages repositories.MessageRepository, audit *telemetry.AuditEmitter, allowedOrigins []string) *Gateway {
	origins := make(map[string]struct{}, len(allowedOrigins))
	allowAll := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = struct{}{}
	}

	return &Gateway{
		hub:           hub,
		tokens:        tokens,
		users:         users,
		conversations: conversations,
		messages:      messages,
		audit:         audit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// Handle authenticates and upgrades an incoming connection. Verification
// happens before the upgrade: a bad credential is rejected with 401 and no
// event handler is reachable without a bound user.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	claims, err := g.tokens.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      claims.ID,
		Name:        claims.Name,
		Email:       claims.Email,
		Avatar:      claims.Avatar,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, info)
	g.hub.Register(client)
	observability.IncWSActive()
	g.publishLifecycle(ctx, client, "ws_connect", "")

	// Re-derive room membership from the store so a participant who
	// connects after a conversation was created still receives its
	// broadcasts.
	if ids, err := g.conversations.ListIDsForUser(ctx, claims.ID); err != nil {
		log.Printf("websocket room sync failed user=%d: %v", claims.ID, err)
	} else {
		for _, id := range ids {
			g.hub.JoinRoom([]*Client{client}, id)
		}
	}

	go g.readLoop(client)
}

// bearerToken pulls the credential from the Authorization header, falling
// back to the token query parameter for browser websocket clients that
// cannot set headers.
func bearerToken(c *gin.Context) string {
	token := c.GetHeader("Authorization")
	if token == "" {
		return c.Query("token")
	}
	if len(token) > 7 && token[:7] == "Bearer " {
		return token[7:]
	}
	return token
}

func (g *Gateway) readLoop(client *Client) {
	ctx := context.Background()
	var closeReason string
	defer func() {
		g.hub.Unregister(client)
		observability.DecWSActive()
		g.publishLifecycle(ctx, client, "ws_disconnect", closeReason)
		client.Close()
	}()

	for {
		var frame models.Frame
		if err := client.conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeReason = err.Error()
			}
			return
		}
		g.dispatch(ctx, client, frame)
	}
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, frame models.Frame) {
	var err error
	switch frame.Event {
	case models.EventGetConversations:
		err = g.handleGetConversations(ctx, client)
	case models.EventNewConversation:
		err = g.handleNewConversation(ctx, client, frame.Data)
	case models.EventNewMessage:
		err = g.handleNewMessage(ctx, client, frame.Data)
	case models.EventGetMessages:
		err = g.handleGetMessages(ctx, client, frame.Data)
	case models.EventGetContacts:
		err = g.handleGetContacts(ctx, client)
	case models.EventUpdateProfile:
		err = g.handleUpdateProfile(ctx, client, frame.Data)
	default:
		log.Printf("websocket unknown event %q user=%d", frame.Event, client.Info.UserID)
		return
	}

	if err != nil {
		observability.IncWSEvent(frame.Event, "error")
		if emitErr := client.Emit(frame.Event, models.Fail(clientMessage(frame.Event, err))); emitErr != nil {
			log.Printf("websocket write error user=%d: %v", client.Info.UserID, emitErr)
		}
		return
	}
	observability.IncWSEvent(frame.Event, "ok")
}

// requestErrors are client-caused failures whose text is safe to return
// verbatim. Anything else is logged and replaced with a generic message.
var requestErrors = []error{
	models.ErrUnauthorized,
	models.ErrDirectPair,
	models.ErrMissingName,
	models.ErrInsufficientParticipants,
	models.ErrMissingConversation,
	models.ErrMissingSender,
	models.ErrUnknownConversation,
	models.ErrUnsupportedType,
	models.ErrEmptyMessage,
	errBadPayload,
	repositories.ErrUserNotFound,
}

var errBadPayload = errors.New("invalid request payload")

var genericFailures = map[string]string{
	models.EventGetConversations: "failed to fetch conversations",
	models.EventNewConversation:  "failed to create conversation",
	models.EventNewMessage:       "failed to send message",
	models.EventGetMessages:      "failed to retrieve messages",
	models.EventGetContacts:      "failed to fetch contacts",
	models.EventUpdateProfile:    "failed to update profile",
}

func clientMessage(event string, err error) string {
	for _, sentinel := range requestErrors {
		if errors.Is(err, sentinel) {
			return err.Error()
		}
	}
	log.Printf("websocket %s error: %v", event, err)
	if msg, ok := genericFailures[event]; ok {
		return msg
	}
	return "request failed"
}

func (g *Gateway) publishLifecycle(ctx context.Context, client *Client, event, reason string) {
	durationMS := int64(0)
	if event != "ws_connect" {
		durationMS = time.Since(client.Info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, "ws_events.realtime", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: observability.WSLifecycle{
			ConnID:     client.Info.ConnID,
			UserID:     client.Info.UserID,
			IP:         client.Info.IP,
			Event:      event,
			DurationMS: durationMS,
			Reason:     reason,
		},
	}, observability.BuildHeaders(client.Info.RequestID, client.Info.TraceID))
}
