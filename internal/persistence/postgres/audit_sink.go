package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oddsforge/pickgate/internal/audit"
)

// auditSink writes audit events to the append-only audit_events table
type auditSink struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewAuditSink(db *sqlx.DB, timeout time.Duration) audit.Sink {
	return &auditSink{db: db, timeout: timeout}
}

func (s *auditSink) Write(ctx context.Context, ev audit.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var metaJSON []byte
	if ev.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (action, actor_id, actor_role, target_id, target_type, metadata, trace_id, ts)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), $8)`,
		string(ev.Action), ev.ActorID, ev.ActorRole, ev.TargetID, ev.TargetType, metaJSON, ev.TraceID, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}
