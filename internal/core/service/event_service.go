package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthbridge/portal-session/internal/api/metrics"
	"github.com/healthbridge/portal-session/internal/core/domain"
	"github.com/healthbridge/portal-session/internal/core/ports"
)

// DedupChecker abstracts the idempotency store for push messages (Redis or
// memory).
type DedupChecker interface {
	MarkFirst(ctx context.Context, messageID string) (bool, error)
}

type eventService struct {
	sessions    ports.SessionService
	dedup       DedupChecker
	refreshSkew time.Duration
	log         zerolog.Logger
}

// NewEventService returns an EventService that drives sessions. refreshSkew
// is how close to expiry an access token may get before a foreground event
// refreshes it.
func NewEventService(sessions ports.SessionService, dedup DedupChecker, refreshSkew time.Duration, log zerolog.Logger) ports.EventService {
	return &eventService{
		sessions:    sessions,
		dedup:       dedup,
		refreshSkew: refreshSkew,
		log:         log,
	}
}

// Process deduplicates a single inbound event and applies it to the session.
// Events for a signed-out session are ignored.
func (s *eventService) Process(ctx context.Context, in ports.InboundEvent) error {
	kind := string(in.Kind)

	// 1. Idempotency check. Push providers deliver at least once.
	if in.MessageID != "" {
		first, err := s.dedup.MarkFirst(ctx, in.MessageID)
		if err != nil {
			s.log.Warn().Err(err).Str("message_id", in.MessageID).Msg("dedup check failed, processing anyway")
		} else if !first {
			s.log.Debug().Str("message_id", in.MessageID).Str("kind", kind).Msg("duplicate event skipped")
			metrics.EventsProcessedTotal.WithLabelValues(kind, "duplicate").Inc()
			return nil
		}
	}

	// 2. Nothing to reconcile without a session.
	if !s.sessions.Snapshot().IsAuthenticated() {
		metrics.EventsProcessedTotal.WithLabelValues(kind, "ignored").Inc()
		return nil
	}

	// 3. Map the event onto a session operation.
	var err error
	switch in.Kind {
	case ports.EventForeground:
		if err = s.sessions.EnsureFreshToken(ctx, s.refreshSkew); err == nil {
			_, err = s.sessions.RefreshProfile(ctx)
		}
	case ports.EventProfileChanged:
		_, err = s.sessions.RefreshProfile(ctx)
	case ports.EventSessionRevoked:
		err = s.sessions.ExpireSession(ctx, domain.ErrUnauthorized)
		if errors.Is(err, domain.ErrSessionExpired) && !errors.Is(err, domain.ErrStorage) {
			err = nil
		}
	case ports.EventTokenExpiring:
		err = s.sessions.RefreshTokens(ctx)
	default:
		metrics.EventsProcessedTotal.WithLabelValues(kind, "ignored").Inc()
		s.log.Debug().Str("kind", kind).Msg("unknown event kind ignored")
		return nil
	}

	if err != nil {
		metrics.EventsProcessedTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("process %s event: %w", kind, err)
	}

	metrics.EventsProcessedTotal.WithLabelValues(kind, "ok").Inc()
	s.log.Info().
		Str("kind", kind).
		Str("message_id", in.MessageID).
		Msg("event processed")
	return nil
}
