package pg

import (
	"context"

	"voyagedesk.app/internal/auth"
)

var _ auth.AuditSink = (*DecisionLog)(nil)

// DecisionLog persists authorization decisions to authz_decisions.
type DecisionLog struct {
	store *Store
}

func (s *Store) DecisionLog() *DecisionLog {
	return &DecisionLog{store: s}
}

func (l *DecisionLog) Record(ctx context.Context, rec auth.DecisionRecord) error {
	if l.store.db == nil {
		return errNoDB
	}
	_, err := l.store.db.ExecContext(ctx, `
		insert into authz_decisions
			(occurred_at, request_id, actor_id, role, agency_id, module, action, decision, reason)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.OccurredAt, rec.RequestID, rec.ActorID, string(rec.Role), rec.AgencyID,
		rec.Module, rec.Action, rec.Decision, rec.Reason)
	return err
}
