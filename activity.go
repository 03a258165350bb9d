package grants

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSessionCreated  ActivityEventType = "grant.session.created"
	ActivityEventLoginSuccess    ActivityEventType = "grant.login.success"
	ActivityEventLoginFailure    ActivityEventType = "grant.login.failure"
	ActivityEventConsentDenied   ActivityEventType = "grant.consent.denied"
	ActivityEventCodeIssued      ActivityEventType = "grant.code.issued"
	ActivityEventCodeExchanged   ActivityEventType = "grant.code.exchanged"
	ActivityEventDeviceInitiated ActivityEventType = "grant.device.initiated"
	ActivityEventDeviceApproved  ActivityEventType = "grant.device.approved"
	ActivityEventDeviceDenied    ActivityEventType = "grant.device.denied"
	ActivityEventDeviceRedeemed  ActivityEventType = "grant.device.redeemed"
	ActivityEventTokenIssued     ActivityEventType = "grant.token.issued"
	ActivityEventActionFailed    ActivityEventType = "grant.action.failed"
)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

const (
	ActorTypeUser   = "user"
	ActorTypeClient = "client"
)

// ActivityEvent captures audit-friendly information about a grant step.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	ClientID   string
	GrantType  string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity never fails the flow, sink errors are only logged.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if err := sink.Record(ctx, event); err != nil {
		logger.Warn("activity sink failed to record %s: %v", event.EventType, err)
	}
}
