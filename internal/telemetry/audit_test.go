package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/mocks"
)

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.logs", mock.MatchedBy(func(e any) bool {
		env, ok := e.(AuditEnvelope)
		return ok &&
			env.EventType == "audit_log" &&
			env.Service == "messenger-service" &&
			env.Payload.Text == "user registered" &&
			env.UserID != nil && *env.UserID == 7
	})).Return(nil)

	emitter := NewAuditEmitter(publisher, "audit.logs", "messenger-service", "test")
	userID := int64(7)
	emitter.Emit(context.Background(), "INFO", "user registered", "req-1", &userID)

	publisher.AssertExpectations(t)
}

func TestAuditEmitterNilSafe(t *testing.T) {
	var emitter *AuditEmitter
	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "noop", "req-1", nil)
	})

	require.NotPanics(t, func() {
		NewAuditEmitter(nil, "audit.logs", "svc", "test").
			Emit(context.Background(), "INFO", "noop", "req-1", nil)
	})
}
