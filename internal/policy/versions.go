package policy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/oddsforge/pickgate/internal/audit"
)

// Version is one entry of the append-only policy config ledger. Restoring
// writes a new entry rather than rewriting history.
type Version struct {
	VersionID     string    `json:"versionId" db:"version_id"`
	Config        Config    `json:"config"`
	ChangedBy     string    `json:"changedBy" db:"changed_by"`
	ChangedAt     time.Time `json:"changedAt" db:"changed_at"`
	IsRestore     bool      `json:"isRestore" db:"is_restore"`
	RestoredFrom  string    `json:"restoredFromVersionId,omitempty" db:"restored_from"`
}

// VersionRepo is the persistence port for the version ledger. Append-only:
// implementations never expose delete or update.
type VersionRepo interface {
	Append(ctx context.Context, v Version) error
	Latest(ctx context.Context) (*Version, error)
	Get(ctx context.Context, versionID string) (*Version, error)
	List(ctx context.Context, limit, offset int) ([]Version, error)
}

// VersionStore provides versioned policy configuration with guarded
// restore semantics. Mutations are serialized so two concurrent admins
// cannot interleave a ratchet check with an append.
type VersionStore struct {
	mu       sync.Mutex
	repo     VersionRepo
	recorder audit.Recorder
}

func NewVersionStore(repo VersionRepo, recorder audit.Recorder) *VersionStore {
	return &VersionStore{repo: repo, recorder: recorder}
}

// ActiveConfig returns the config snapshot of the newest version
func (s *VersionStore) ActiveConfig(ctx context.Context) (*Config, error) {
	latest, err := s.repo.Latest(ctx)
	if err != nil {
		return nil, err
	}
	cfg := latest.Config
	return &cfg, nil
}

// CreateVersion validates cfg and appends it to the ledger. The version
// mutation audits fail-closed: an unrecordable change is rejected.
func (s *VersionStore) CreateVersion(ctx context.Context, cfg Config, changedBy string) (*Version, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(changedBy) == "" {
		return nil, NewValidationError("changedBy", "author is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.CreatedBy = changedBy

	v := Version{
		VersionID: uuid.New().String(),
		Config:    cfg,
		ChangedBy: changedBy,
		ChangedAt: now,
	}

	if err := s.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionPolicyVersionCreated,
		ActorID:    changedBy,
		TargetID:   v.VersionID,
		TargetType: "policy_version",
		Metadata: map[string]interface{}{
			"version":           cfg.Version,
			"hard_stop_enabled": cfg.HardStopEnabled,
		},
	}); err != nil {
		return nil, NewAuditUnavailableError(string(audit.ActionPolicyVersionCreated), err)
	}

	if err := s.repo.Append(ctx, v); err != nil {
		return nil, err
	}

	log.Info().
		Str("version_id", v.VersionID).
		Str("version", cfg.Version).
		Str("changed_by", changedBy).
		Msg("Policy version created")
	return &v, nil
}

// ListHistory returns ledger entries newest first
func (s *VersionStore) ListHistory(ctx context.Context, limit, offset int) ([]Version, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// GetVersion loads one ledger entry by id
func (s *VersionStore) GetVersion(ctx context.Context, versionID string) (*Version, error) {
	return s.repo.Get(ctx, versionID)
}

// Restore re-activates a historical version by appending a fresh copy of
// it. Admin only. The hard-stop ratchet is one-way: a restore that would
// weaken protection relative to the live config is rejected and the
// attempt is itself audited as a security event.
func (s *VersionStore) Restore(ctx context.Context, versionID string, actor Actor) (*Version, error) {
	if actor.Role != RoleAdmin {
		return nil, NewForbiddenError(actor.Role, "admin")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.repo.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	live, err := s.repo.Latest(ctx)
	if err != nil {
		return nil, err
	}

	if reasons := target.Config.WeakerThan(&live.Config); len(reasons) > 0 {
		// Security-relevant: record the rejected attempt before returning.
		// Best effort, the rejection stands regardless of the sink.
		if recErr := s.recorder.Record(ctx, audit.Event{
			Action:     audit.ActionHardStopBypassAttempt,
			ActorID:    actor.ID,
			ActorRole:  string(actor.Role),
			TargetID:   versionID,
			TargetType: "policy_version",
			Metadata: map[string]interface{}{
				"violations":      reasons,
				"live_version_id": live.VersionID,
			},
		}); recErr != nil {
			log.Error().Err(recErr).Str("version_id", versionID).Msg("Failed to audit bypass attempt")
		}

		return nil, NewHardStopViolationError(
			"restore would weaken hard-stop protection: "+strings.Join(reasons, "; "),
			map[string]interface{}{"violations": reasons},
		)
	}

	now := time.Now().UTC()
	cfg := target.Config
	cfg.CreatedAt = now
	cfg.CreatedBy = actor.ID

	restored := Version{
		VersionID:    uuid.New().String(),
		Config:       cfg,
		ChangedBy:    actor.ID,
		ChangedAt:    now,
		IsRestore:    true,
		RestoredFrom: target.VersionID,
	}

	if err := s.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionPolicyVersionRestored,
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		TargetID:   restored.VersionID,
		TargetType: "policy_version",
		Metadata: map[string]interface{}{
			"restored_from": target.VersionID,
			"version":       cfg.Version,
		},
	}); err != nil {
		return nil, NewAuditUnavailableError(string(audit.ActionPolicyVersionRestored), err)
	}

	if err := s.repo.Append(ctx, restored); err != nil {
		return nil, err
	}

	log.Info().
		Str("version_id", restored.VersionID).
		Str("restored_from", target.VersionID).
		Str("actor", actor.ID).
		Msg("Policy version restored")
	return &restored, nil
}
