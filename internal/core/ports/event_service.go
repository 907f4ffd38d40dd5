package ports

import (
	"context"
	"time"
)

// EventKind names an inbound notification the session core reacts to.
type EventKind string

const (
	// EventForeground is raised when the app returns from background.
	EventForeground EventKind = "app_foreground"
	// EventProfileChanged is pushed when the profile was edited elsewhere.
	EventProfileChanged EventKind = "profile_changed"
	// EventSessionRevoked is pushed when the server invalidated the session.
	EventSessionRevoked EventKind = "session_revoked"
	// EventTokenExpiring asks for a proactive token refresh.
	EventTokenExpiring EventKind = "token_expiring"
)

// InboundEvent is a push notification or lifecycle signal. MessageID is used
// for deduplication and may be empty for locally raised events.
type InboundEvent struct {
	MessageID  string
	Kind       EventKind
	ReceivedAt time.Time
}

// EventService maps inbound events onto session operations.
type EventService interface {
	Process(ctx context.Context, event InboundEvent) error
}
