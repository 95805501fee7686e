package observability

// EventEnvelope is the wire shape of every bus event.
type EventEnvelope struct {
	EventType string `json:"event_type"`
	EventName string `json:"event_name"`
	Payload   any    `json:"payload"`
}

// WSLifecycle describes a websocket connection lifecycle event.
type WSLifecycle struct {
	ConnID     string `json:"conn_id"`
	UserID     int64  `json:"user_id"`
	IP         string `json:"ip"`
	Event      string `json:"event"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
