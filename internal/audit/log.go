package audit

import (
	"context"
	"errors"
	"strings"

	"voyagedesk.app/internal/auth"
	"voyagedesk.app/internal/obs"
)

// LogEvent writes an audit log entry enriched with request and actor context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	e := obs.Logger().Info().Str("type", "audit").Str("event", event)
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		e = e.Str("request_id", rid)
	}
	if actor, ok := auth.ActorFromContext(ctx); ok {
		e = e.Str("actor_id", actor.ID).Str("role", string(actor.Role))
		if actor.AgencyID != "" {
			e = e.Str("agency_id", actor.AgencyID)
		}
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	e.Interface("fields", copyFields).Msg("audit")
	return nil
}
