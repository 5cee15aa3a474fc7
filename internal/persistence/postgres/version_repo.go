package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oddsforge/pickgate/internal/policy"
)

type versionRow struct {
	VersionID    string         `db:"version_id"`
	Config       []byte         `db:"config"`
	ChangedBy    string         `db:"changed_by"`
	ChangedAt    time.Time      `db:"changed_at"`
	IsRestore    bool           `db:"is_restore"`
	RestoredFrom sql.NullString `db:"restored_from"`
}

func (r versionRow) toVersion() (policy.Version, error) {
	var cfg policy.Config
	if err := json.Unmarshal(r.Config, &cfg); err != nil {
		return policy.Version{}, fmt.Errorf("failed to unmarshal config snapshot: %w", err)
	}
	return policy.Version{
		VersionID:    r.VersionID,
		Config:       cfg,
		ChangedBy:    r.ChangedBy,
		ChangedAt:    r.ChangedAt,
		IsRestore:    r.IsRestore,
		RestoredFrom: r.RestoredFrom.String,
	}, nil
}

// versionRepo implements policy.VersionRepo. Append-only: no UPDATE or
// DELETE statement exists in this file on purpose.
type versionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewVersionRepo(db *sqlx.DB, timeout time.Duration) policy.VersionRepo {
	return &versionRepo{db: db, timeout: timeout}
}

func (r *versionRepo) Append(ctx context.Context, v policy.Version) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cfgJSON, err := json.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO policy_versions (version_id, config, changed_by, changed_at, is_restore, restored_from)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`,
		v.VersionID, cfgJSON, v.ChangedBy, v.ChangedAt, v.IsRestore, v.RestoredFrom)
	if err != nil {
		return fmt.Errorf("failed to append policy version: %w", err)
	}
	return nil
}

func (r *versionRepo) Latest(ctx context.Context) (*policy.Version, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row versionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT version_id, config, changed_by, changed_at, is_restore, restored_from
		FROM policy_versions ORDER BY seq DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, policy.NewNotFoundError("policy_version", "latest")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest policy version: %w", err)
	}

	v, err := row.toVersion()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *versionRepo) Get(ctx context.Context, versionID string) (*policy.Version, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row versionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT version_id, config, changed_by, changed_at, is_restore, restored_from
		FROM policy_versions WHERE version_id = $1`, versionID)
	if err == sql.ErrNoRows {
		return nil, policy.NewNotFoundError("policy_version", versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load policy version: %w", err)
	}

	v, err := row.toVersion()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *versionRepo) List(ctx context.Context, limit, offset int) ([]policy.Version, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []versionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT version_id, config, changed_by, changed_at, is_restore, restored_from
		FROM policy_versions ORDER BY seq DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy versions: %w", err)
	}

	versions := make([]policy.Version, 0, len(rows))
	for _, row := range rows {
		v, err := row.toVersion()
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}
