// Package notify is the outbound alert boundary. Delivery transport is an
// external collaborator's concern; the engine only hands events over,
// fire-and-forget.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"trackline/internal/authority"
	"trackline/internal/domain"
)

// Notification pairs an escalation with the role tiers to alert.
type Notification struct {
	Unit       domain.Unit
	Escalation domain.Escalation
	Recipients []authority.Role
}

// Sink delivers notifications. Implementations must not block the caller
// beyond a bounded send and must never return delivery state the engine
// would have to act on.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// LogSink writes notifications to the structured log. It is the default
// sink for CLI usage; webhook delivery is wired in the server.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Notify(ctx context.Context, n Notification) {
	roles := make([]string, 0, len(n.Recipients))
	for _, r := range n.Recipients {
		roles = append(roles, string(r))
	}
	s.Logger.Info().
		Str("unit_id", n.Unit.ID).
		Int("level", n.Escalation.Level).
		Str("trigger", n.Escalation.Trigger).
		Strs("recipients", roles).
		Msg("escalation notification")
}

// Discard drops all notifications. Used in tests.
type Discard struct{}

func (Discard) Notify(ctx context.Context, n Notification) {}
