package sqlstore

import (
	"context"
	"encoding/json"

	"docgate.io/internal/apperrors"
	"docgate.io/internal/audit"
)

func (s *Store) AppendAuditEvent(ctx context.Context, e audit.Event) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return apperrors.Database("encode audit details", err)
	}
	_, err = s.exec(ctx, "append audit event", `
		insert into audit_events(id, occurred_at, category, event_type, request_id, actor, resource_id, action, target, outcome, details, error)
		values (?,?,?,?,?,?,?,?,?,?,?,?)
	`, e.ID, e.OccurredAt.UTC(), e.Category, e.EventType, e.RequestID, e.Actor, e.ResourceID,
		e.Action, e.Target, string(e.Outcome), string(raw), e.Error)
	return err
}

// AuditEvents returns the most recent events, newest first.
func (s *Store) AuditEvents(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return queryAll(ctx, s, "list audit events", `
		select id, occurred_at, category, event_type, request_id, actor, resource_id, action, target, outcome, details, error
		from audit_events order by occurred_at desc, id desc limit ?
	`, func(sc scanner) (audit.Event, error) {
		var (
			e   audit.Event
			raw []byte
		)
		if err := sc.Scan(&e.ID, &e.OccurredAt, &e.Category, &e.EventType, &e.RequestID, &e.Actor,
			&e.ResourceID, &e.Action, &e.Target, &e.Outcome, &raw, &e.Error); err != nil {
			return audit.Event{}, err
		}
		e.OccurredAt = e.OccurredAt.UTC()
		if err := json.Unmarshal(raw, &e.Details); err != nil {
			return audit.Event{}, err
		}
		return e, nil
	}, limit)
}
