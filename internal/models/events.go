package models

import "encoding/json"

// Event names shared by client and server. Responses are always emitted
// back on the event name that carried the request.
const (
	EventGetConversations = "getConversations"
	EventNewConversation  = "newConversation"
	EventNewMessage       = "newMessage"
	EventGetMessages      = "getMessages"
	EventGetContacts      = "getContacts"
	EventUpdateProfile    = "updateProfile"
)

// Frame is a single websocket message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Envelope is the uniform response payload.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Msg     string `json:"msg,omitempty"`
}

// OK wraps data in a success envelope.
func OK(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail builds a failure envelope with a client-facing message.
func Fail(msg string) Envelope {
	return Envelope{Success: false, Msg: msg}
}

// NewConversationRequest is the newConversation input.
type NewConversationRequest struct {
	Type         string  `json:"type"`
	Participants []int64 `json:"participants"`
	Name         string  `json:"name,omitempty"`
	Avatar       string  `json:"avatar,omitempty"`
}

// NewMessageRequest is the newMessage input. Sender name/avatar ride along
// so the broadcast can be enriched without a store lookup.
type NewMessageRequest struct {
	ConversationID int64         `json:"conversationId"`
	Sender         MessageSender `json:"sender"`
	Content        string        `json:"content"`
	Attachment     string        `json:"attachment,omitempty"`
}

// GetMessagesRequest is the getMessages input.
type GetMessagesRequest struct {
	ConversationID int64 `json:"conversationId"`
}

// UpdateProfileRequest is the updateProfile input; only these two fields
// are mutable through this path.
type UpdateProfileRequest struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// ProfileUpdate is the updateProfile response: the updated user plus a
// reissued credential reflecting the change.
type ProfileUpdate struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}
