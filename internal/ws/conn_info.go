package ws

import "time"

// ConnInfo is the identity and metadata bound to a connection at handshake
// time. Name/Email/Avatar are the verified claims, cached so message
// enrichment never re-queries the store.
type ConnInfo struct {
	ConnID      string
	UserID      int64
	Name        string
	Email       string
	Avatar      string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
