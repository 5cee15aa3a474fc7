// Package audit defines the immutable audit trail contract the policy
// engine emits safety-relevant events through.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Action identifies an auditable operation
type Action string

const (
	ActionHardStopTriggered     Action = "HARD_STOP_TRIGGERED"
	ActionHardStopReset         Action = "HARD_STOP_RESET"
	ActionHardStopBypassAttempt Action = "HARD_STOP_BYPASS_ATTEMPT"
	ActionPolicyVersionCreated  Action = "POLICY_VERSION_CREATED"
	ActionPolicyVersionRestored Action = "POLICY_VERSION_RESTORED"
	ActionDecisionRecorded      Action = "DECISION_RECORDED"
)

// Event is one immutable audit trail entry
type Event struct {
	Action     Action                 `json:"action"`
	ActorID    string                 `json:"actor_id,omitempty"`
	ActorRole  string                 `json:"actor_role,omitempty"`
	TargetID   string                 `json:"target_id,omitempty"`
	TargetType string                 `json:"target_type,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	TraceID    string                 `json:"trace_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Recorder is the contract consumed by the hard-stop machine and the
// version store. Callers decide per operation whether a Record failure
// fails the operation closed or is logged and tolerated.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Sink is the persistence port a Recorder writes through
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// BreakerRecorder guards the audit sink with a circuit breaker so a dead
// sink fails fast instead of stalling every mutation behind timeouts.
type BreakerRecorder struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerRecorder wraps sink with breaker defaults tuned for an audit
// path: trip after 3 consecutive failures, retry after 30s.
func NewBreakerRecorder(sink Sink) *BreakerRecorder {
	settings := gobreaker.Settings{
		Name:        "audit-sink",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Audit sink breaker state changed")
		},
	}

	return &BreakerRecorder{
		sink:    sink,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Record stamps the event and writes it through the breaker. The returned
// error is the sink's error or the breaker's open-state rejection.
func (r *BreakerRecorder) Record(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.sink.Write(ctx, ev)
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("action", string(ev.Action)).
			Str("trace_id", ev.TraceID).
			Msg("Audit record failed")
		return err
	}

	log.Debug().
		Str("action", string(ev.Action)).
		Str("actor_role", ev.ActorRole).
		Str("target_id", ev.TargetID).
		Msg("Audit event recorded")
	return nil
}

// LogSink writes audit events as structured log lines. Used when no
// database sink is configured.
type LogSink struct{}

func (LogSink) Write(_ context.Context, ev Event) error {
	log.Info().
		Str("action", string(ev.Action)).
		Str("actor_id", ev.ActorID).
		Str("actor_role", ev.ActorRole).
		Str("target_id", ev.TargetID).
		Str("target_type", ev.TargetType).
		Str("trace_id", ev.TraceID).
		Interface("metadata", ev.Metadata).
		Time("ts", ev.Timestamp).
		Msg("audit")
	return nil
}

// MemorySink captures events in memory, newest last. Used by tests and the
// one-shot CLI evaluation path.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByAction filters recorded events by action
func (s *MemorySink) ByAction(action Action) []Event {
	var out []Event
	for _, ev := range s.Events() {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

// SinkRecorder records directly against a sink with no breaker. Tests use
// it to assert exact failure propagation.
type SinkRecorder struct {
	sink Sink
}

func NewSinkRecorder(sink Sink) *SinkRecorder {
	return &SinkRecorder{sink: sink}
}

func (r *SinkRecorder) Record(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return r.sink.Write(ctx, ev)
}
