package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAccountRegistered     ActivityEventType = "account.registered"
	ActivityEventStateChanged          ActivityEventType = "account.state.changed"
	ActivityEventEmailVerified         ActivityEventType = "account.email.verified"
	ActivityEventVerificationRequested ActivityEventType = "account.verification.requested"
	ActivityEventAccountUpdated        ActivityEventType = "account.updated"
	ActivityEventAccountDeleted        ActivityEventType = "account.deleted"
	ActivityEventLoginSuccess          ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure          ActivityEventType = "auth.login.failure"
	ActivityEventSessionRefreshed      ActivityEventType = "auth.session.refreshed"
	ActivityEventRefreshReuse          ActivityEventType = "auth.session.refresh_reuse"
	ActivityEventLogout                ActivityEventType = "auth.logout"
	ActivityEventPasswordChanged       ActivityEventType = "auth.password.changed"
	ActivityEventPasswordResetRequest  ActivityEventType = "auth.password.reset_requested"
	ActivityEventPasswordResetSuccess  ActivityEventType = "auth.password.reset"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	FromState  AccountState
	ToState    AccountState
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks are best effort: errors are logged and never fail the operation.
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

func actorFor(account *Account) ActorRef {
	if account == nil {
		return ActorRef{Type: "unknown"}
	}
	return ActorRef{ID: account.ID.String(), Type: "account"}
}

func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink error", "event", event.EventType, "error", err)
	}
}
