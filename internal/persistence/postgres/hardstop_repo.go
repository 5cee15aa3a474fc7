package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/oddsforge/pickgate/internal/hardstop"
)

type hardStopRow struct {
	IsActive          bool            `db:"is_active"`
	DailyLoss         decimal.Decimal `db:"daily_loss"`
	ConsecutiveLosses int             `db:"consecutive_losses"`
	BankrollPercent   float64         `db:"bankroll_percent"`
	TriggeredAt       *time.Time      `db:"triggered_at"`
	TriggerReason     sql.NullString  `db:"trigger_reason"`
	LastResetAt       *time.Time      `db:"last_reset_at"`
	Revision          int64           `db:"revision"`
}

func (r hardStopRow) toState() hardstop.State {
	return hardstop.State{
		IsActive:          r.IsActive,
		DailyLoss:         r.DailyLoss,
		ConsecutiveLosses: r.ConsecutiveLosses,
		BankrollPercent:   r.BankrollPercent,
		TriggeredAt:       r.TriggeredAt,
		TriggerReason:     r.TriggerReason.String,
		LastResetAt:       r.LastResetAt,
		Revision:          r.Revision,
	}
}

// hardStopRepo implements hardstop.StateRepo over the singleton row.
// Update takes a row lock so two concurrent trip checks cannot both read
// "not yet tripped" and lose a trip.
type hardStopRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewHardStopRepo(db *sqlx.DB, timeout time.Duration) hardstop.StateRepo {
	return &hardStopRepo{db: db, timeout: timeout}
}

func (r *hardStopRepo) Load(ctx context.Context) (hardstop.State, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row hardStopRow
	err := r.db.GetContext(ctx, &row, `
		SELECT is_active, daily_loss, consecutive_losses, bankroll_percent,
		       triggered_at, trigger_reason, last_reset_at, revision
		FROM hard_stop_state WHERE id = 1`)
	if err == sql.ErrNoRows {
		return hardstop.State{}, nil
	}
	if err != nil {
		return hardstop.State{}, fmt.Errorf("failed to load hard stop state: %w", err)
	}
	return row.toState(), nil
}

func (r *hardStopRepo) Update(ctx context.Context, fn func(hardstop.State) (hardstop.State, error)) (hardstop.State, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return hardstop.State{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row hardStopRow
	if err := tx.GetContext(ctx, &row, `
		SELECT is_active, daily_loss, consecutive_losses, bankroll_percent,
		       triggered_at, trigger_reason, last_reset_at, revision
		FROM hard_stop_state WHERE id = 1 FOR UPDATE`); err != nil {
		return hardstop.State{}, fmt.Errorf("failed to lock hard stop state: %w", err)
	}

	next, err := fn(row.toState())
	if err != nil {
		return hardstop.State{}, err
	}
	next.Revision = row.Revision + 1

	res, err := tx.ExecContext(ctx, `
		UPDATE hard_stop_state SET
			is_active = $1, daily_loss = $2, consecutive_losses = $3,
			bankroll_percent = $4, triggered_at = $5, trigger_reason = NULLIF($6, ''),
			last_reset_at = $7, revision = $8
		WHERE id = 1 AND revision = $9`,
		next.IsActive, next.DailyLoss, next.ConsecutiveLosses,
		next.BankrollPercent, next.TriggeredAt, next.TriggerReason,
		next.LastResetAt, next.Revision, row.Revision)
	if err != nil {
		return hardstop.State{}, fmt.Errorf("failed to update hard stop state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return hardstop.State{}, fmt.Errorf("failed to check update result: %w", err)
	}
	if affected != 1 {
		return hardstop.State{}, fmt.Errorf("hard stop state revision conflict at revision %d", row.Revision)
	}

	if err := tx.Commit(); err != nil {
		return hardstop.State{}, fmt.Errorf("failed to commit hard stop update: %w", err)
	}
	return next, nil
}
