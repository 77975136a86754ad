package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/config"
	"github.com/sensai-labs/proctor-client/internal/model"
)

// StarterGateway is the registry's view of the backend: session creation
// plus the machine's submission surface.
type StarterGateway interface {
	Gateway
	StartSession(ctx context.Context, examID, userID string) (string, error)
}

// Registry owns all running session machines, keyed by the backend-assigned
// session id. It glues machines to the ambient infrastructure: answer
// snapshots mirrored to Redis so a reconnecting client can recover, raw
// proctoring events queued for the audit worker, terminal machines evicted
// after a grace period.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*Machine

	gw  StarterGateway
	rdb *redis.Client
	log zerolog.Logger

	tickInterval time.Duration
	evictAfter   time.Duration
}

// NewRegistry creates an empty registry. rdb may be nil; mirroring and event
// queueing are then skipped (tests, degraded mode).
func NewRegistry(gw StarterGateway, rdb *redis.Client, log zerolog.Logger, tickInterval, evictAfter time.Duration) *Registry {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	if evictAfter <= 0 {
		evictAfter = 15 * time.Minute
	}
	return &Registry{
		machines:     make(map[string]*Machine),
		gw:           gw,
		rdb:          rdb,
		log:          log.With().Str("component", "session_registry").Logger(),
		tickInterval: tickInterval,
		evictAfter:   evictAfter,
	}
}

// Start asks the backend for a new session id, boots a machine for it and
// starts the exam. The machine is discarded again if starting fails.
func (r *Registry) Start(ctx context.Context, examID, userID string, req model.StartSessionRequest) (model.SessionSnapshot, error) {
	sessionID, err := r.gw.StartSession(ctx, examID, userID)
	if err != nil {
		return model.SessionSnapshot{}, fmt.Errorf("start backend session: %w", err)
	}

	policy := model.DefaultViolationPolicy()
	if req.Policy != nil {
		policy = *req.Policy
	}

	m := New(Config{
		Session: model.ExamSession{
			SessionID:       sessionID,
			ExamID:          examID,
			UserID:          userID,
			DurationSeconds: req.DurationSeconds,
		},
		Policy:        policy,
		Gateway:       r.gw,
		Log:           r.log,
		TickInterval:  r.tickInterval,
		OnAnswerSaved: r.answerMirror(sessionID),
		OnEvent:       r.eventSink(),
		OnTerminal:    r.terminalHook(sessionID),
	})

	if err := m.Start(); err != nil {
		m.Close()
		// The backend session already exists; it times out server-side.
		r.log.Error().Err(err).
			Str("session_id", sessionID).
			Str("exam_id", examID).
			Msg("Machine start failed, abandoning backend session")
		return model.SessionSnapshot{}, err
	}

	r.mu.Lock()
	r.machines[sessionID] = m
	r.mu.Unlock()

	r.log.Info().
		Str("session_id", sessionID).
		Str("exam_id", examID).
		Str("user_id", userID).
		Int("duration", req.DurationSeconds).
		Msg("Session registered")

	snap, err := m.Snapshot()
	if err != nil {
		return model.SessionSnapshot{}, err
	}
	return snap, nil
}

// Get returns the machine for sessionID if one is running.
func (r *Registry) Get(sessionID string) (*Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[sessionID]
	return m, ok
}

// Shutdown closes every running machine.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.machines {
		m.Close()
		delete(r.machines, id)
	}
}

func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	m, ok := r.machines[sessionID]
	if ok {
		delete(r.machines, sessionID)
	}
	r.mu.Unlock()
	if ok {
		m.Close()
		r.log.Debug().Str("session_id", sessionID).Msg("Session evicted")
	}
}

// ─── Machine hooks ──────────────────────────────────────────────────

// answerMirror mirrors accepted answers into a Redis hash. Best-effort: a
// cache failure is logged, never surfaced — the machine remains the source
// of truth.
func (r *Registry) answerMirror(sessionID string) func(questionID, answer string) {
	if r.rdb == nil {
		return nil
	}
	key := config.CacheKey.SessionAnswersKey(sessionID)
	return func(questionID, answer string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.rdb.HSet(ctx, key, questionID, answer).Err(); err != nil {
			r.log.Warn().Err(err).Str("session_id", sessionID).Msg("Answer snapshot cache failed")
		}
	}
}

// eventSink queues raw proctoring events for the audit worker.
func (r *Registry) eventSink() func(evt model.ProctoringEvent) {
	if r.rdb == nil {
		return nil
	}
	return func(evt model.ProctoringEvent) {
		data, err := json.Marshal(evt)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.rdb.RPush(ctx, config.WorkerKey.ProctorEventsQueue, data).Err(); err != nil {
			r.log.Warn().Err(err).Str("session_id", evt.SessionID).Msg("Event queue push failed")
		}
	}
}

// terminalHook caches the final status and schedules eviction so finished
// sessions stay queryable for a while (including FAILED, which the user may
// still retry).
func (r *Registry) terminalHook(sessionID string) func(status model.SessionStatus) {
	return func(status model.SessionStatus) {
		if r.rdb != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			key := config.CacheKey.SessionStatusKey(sessionID)
			if err := r.rdb.Set(ctx, key, string(status), r.evictAfter).Err(); err != nil {
				r.log.Warn().Err(err).Str("session_id", sessionID).Msg("Status cache failed")
			}
		}
		time.AfterFunc(r.evictAfter, func() { r.remove(sessionID) })
	}
}
