// Package memory provides in-process repository implementations. They
// back unit tests and the one-shot CLI evaluation path; semantics match
// the postgres implementations including update atomicity.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oddsforge/pickgate/internal/hardstop"
	"github.com/oddsforge/pickgate/internal/persistence"
	"github.com/oddsforge/pickgate/internal/policy"
)

// HardStopRepo keeps the breaker state under a mutex so concurrent
// outcome updates serialize exactly like the postgres row lock.
type HardStopRepo struct {
	mu    sync.Mutex
	state hardstop.State
}

func NewHardStopRepo() *HardStopRepo {
	return &HardStopRepo{}
}

func (r *HardStopRepo) Load(_ context.Context) (hardstop.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

func (r *HardStopRepo) Update(_ context.Context, fn func(hardstop.State) (hardstop.State, error)) (hardstop.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := fn(r.state)
	if err != nil {
		return hardstop.State{}, err
	}
	next.Revision = r.state.Revision + 1
	r.state = next
	return next, nil
}

// Seed replaces the stored state, simulating what a restart reloads
func (r *HardStopRepo) Seed(s hardstop.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// VersionRepo is an append-only in-memory version ledger
type VersionRepo struct {
	mu       sync.RWMutex
	versions []policy.Version
}

func NewVersionRepo() *VersionRepo {
	return &VersionRepo{}
}

func (r *VersionRepo) Append(_ context.Context, v policy.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, v)
	return nil
}

func (r *VersionRepo) Latest(_ context.Context) (*policy.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.versions) == 0 {
		return nil, policy.NewNotFoundError("policy_version", "latest")
	}
	v := r.versions[len(r.versions)-1]
	return &v, nil
}

func (r *VersionRepo) Get(_ context.Context, versionID string) (*policy.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.versions {
		if r.versions[i].VersionID == versionID {
			v := r.versions[i]
			return &v, nil
		}
	}
	return nil, policy.NewNotFoundError("policy_version", versionID)
}

// List walks the ledger backwards: append order is the version sequence,
// so newest first means last appended first, same as the postgres seq
// ordering even when timestamps collide.
func (r *VersionRepo) List(_ context.Context, limit, offset int) ([]policy.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if offset >= len(r.versions) {
		return []policy.Version{}, nil
	}
	out := make([]policy.Version, 0, limit)
	for i := len(r.versions) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.versions[i])
	}
	return out, nil
}

// Len reports ledger size, used by append-only assertions
func (r *VersionRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.versions)
}

// DecisionRepo stores decisions in memory, newest last
type DecisionRepo struct {
	mu        sync.RWMutex
	decisions []persistence.Decision
}

func NewDecisionRepo() *DecisionRepo {
	return &DecisionRepo{}
}

func (r *DecisionRepo) Insert(_ context.Context, d persistence.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return nil
}

func (r *DecisionRepo) GetByTraceID(_ context.Context, traceID string) (*persistence.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.decisions) - 1; i >= 0; i-- {
		if r.decisions[i].TraceID == traceID {
			d := r.decisions[i]
			return &d, nil
		}
	}
	return nil, policy.NewNotFoundError("decision", traceID)
}

func (r *DecisionRepo) MarkPublished(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.decisions {
		if r.decisions[i].ID == id {
			r.decisions[i].PublishedAt = &at
			return nil
		}
	}
	return policy.NewNotFoundError("decision", id)
}

func (r *DecisionRepo) ListRecent(_ context.Context, limit int) ([]persistence.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.decisions) {
		limit = len(r.decisions)
	}
	out := make([]persistence.Decision, 0, limit)
	for i := len(r.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.decisions[i])
	}
	return out, nil
}
