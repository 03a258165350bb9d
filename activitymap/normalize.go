package activitymap

import (
	"maps"
	"strings"
	"time"

	"github.com/goliatone/go-grants"
)

const (
	// MetadataKeyActorType stores the actor type derived from grants.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyGrantType stores the OAuth2 grant type of the event.
	MetadataKeyGrantType = "grant_type"
	// MetadataKeyUserID stores the resource owner when the actor is someone else.
	MetadataKeyUserID = "user_id"
)

const (
	defaultChannel    = "oauth2"
	defaultObjectType = "client"
	defaultActorID    = "system"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Fields flattens the record into a single map, metadata keys first so the
// record fields always win.
func (n Normalized) Fields() map[string]any {
	out := make(map[string]any, len(n.Metadata)+6)
	maps.Copy(out, n.Metadata)
	out["actor_id"] = n.ActorID
	out["verb"] = n.Verb
	out["occurred_at"] = n.OccurredAt
	if n.ObjectType != "" {
		out["object_type"] = n.ObjectType
	}
	if n.ObjectID != "" {
		out["object_id"] = n.ObjectID
	}
	if n.Channel != "" {
		out["channel"] = n.Channel
	}
	return out
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(grants.ActivityEvent) string
}

// Normalize converts a grants.ActivityEvent into a generic normalized shape.
// The object is the client the grant was made for unless a resolver says
// otherwise.
func Normalize(event grants.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event, actorID),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(grants.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the final actor-id fallback when actor/user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event grants.ActivityEvent, resolver func(grants.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return strings.TrimSpace(event.ClientID)
}

func normalizeMetadata(event grants.ActivityEvent, actorID string) map[string]any {
	var metadata map[string]any
	if len(event.Metadata) > 0 {
		metadata = maps.Clone(event.Metadata)
	}

	set := func(key, value string) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; !exists {
			metadata[key] = value
		}
	}

	set(MetadataKeyActorType, strings.TrimSpace(event.Actor.Type))
	set(MetadataKeyGrantType, event.GrantType)
	if event.UserID != actorID {
		set(MetadataKeyUserID, event.UserID)
	}

	return metadata
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
