// Package activitymap flattens account activity events into a
// transport-agnostic record suited for audit logs and queues.
package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-account-auth"
	"github.com/goliatone/go-print"
)

const (
	MetadataKeyActorType = "actor_type"
	MetadataKeyFromState = "from_state"
	MetadataKeyToState   = "to_state"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "account"
	defaultActorID    = "system"
)

// Record is the normalized shape handed to downstream systems.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*options)

type options struct {
	channel       string
	objectType    string
	actorFallback string
	now           func() time.Time
}

func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

func WithObjectType(objectType string) Option {
	return func(o *options) {
		o.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback sets the actor id used when neither the actor nor the
// account carry one.
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		o.actorFallback = strings.TrimSpace(actorID)
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Normalize converts an activity event into a Record. The event's metadata
// map is copied, never modified.
func Normalize(event auth.ActivityEvent, opts ...Option) Record {
	o := buildOptions(opts)
	return normalize(event, o)
}

func normalize(event auth.ActivityEvent, o options) Record {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = o.now()
	}

	return Record{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.AccountID),
			o.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(event.AccountID),
		Channel:    o.channel,
		Metadata:   metadataFor(event),
		OccurredAt: occurredAt,
	}
}

// NewLogSink returns an ActivitySink that writes each normalized record to
// logger as JSON.
func NewLogSink(logger auth.Logger, opts ...Option) auth.ActivitySink {
	o := buildOptions(opts)
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		record := normalize(event, o)
		logger.Info("activity",
			"verb", record.Verb,
			"object_id", record.ObjectID,
			"record", print.MaybePrettyJSON(record),
		)
		return nil
	})
}

func metadataFor(event auth.ActivityEvent) map[string]any {
	var out map[string]any
	set := func(key string, value any, overwrite bool) {
		if out == nil {
			out = map[string]any{}
		}
		if _, exists := out[key]; exists && !overwrite {
			return
		}
		out[key] = value
	}

	for key, value := range event.Metadata {
		set(key, value, true)
	}
	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		set(MetadataKeyActorType, actorType, false)
	}
	if event.FromState != "" {
		set(MetadataKeyFromState, string(event.FromState), true)
	}
	if event.ToState != "" {
		set(MetadataKeyToState, string(event.ToState), true)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
