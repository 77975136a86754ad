package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/model"
)

// Gateway is the slice of the backend the machine needs: exactly-once exam
// submission and the separate viva submission. The gateway holds no session
// state and knows nothing about timers.
type Gateway interface {
	SubmitExam(ctx context.Context, examID, sessionID, userID string, answers map[string]string, elapsedSeconds int) (*model.SubmitResult, error)
	SubmitViva(ctx context.Context, sessionID, userID string, answers map[string]string) (*model.VivaResult, error)
}

// Config assembles a session machine.
type Config struct {
	Session model.ExamSession
	Policy  model.ViolationPolicy
	Gateway Gateway
	Log     zerolog.Logger

	// TickInterval is the length of one logical second. Defaults to
	// time.Second; tests shrink it.
	TickInterval  time.Duration
	SubmitTimeout time.Duration

	// OnAnswerSaved fires after each accepted main-exam answer (snapshot
	// mirroring). Called from the event loop; keep it fast.
	OnAnswerSaved func(questionID, answer string)
	// OnEvent fires for each accepted proctoring event (audit trail).
	OnEvent func(evt model.ProctoringEvent)
	// OnTerminal fires once per entry into COMPLETED or FAILED.
	OnTerminal func(status model.SessionStatus)
}

// Machine is the top-level controller for one exam attempt. All state access
// is serialized through a single event loop: clock ticks, viva timeouts,
// proctoring events and caller commands are one stream, so no two handlers
// for the same session ever run concurrently.
type Machine struct {
	cfg  Config
	log  zerolog.Logger
	sess model.ExamSession

	clock *Clock
	agg   *Aggregator
	viva  *VivaController

	submitReason string
	result       *model.SubmitResult
	submitErr    error

	cmds      chan func()
	closed    chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
}

// New builds a machine and starts its event loop. The session stays in
// NOT_STARTED until Start is called.
func New(cfg Config) *Machine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}

	sess := cfg.Session
	sess.Status = model.SessionNotStarted
	if sess.Answers == nil {
		sess.Answers = make(map[string]string)
	}

	m := &Machine{
		cfg:      cfg,
		log:      cfg.Log.With().Str("component", "session_machine").Str("session_id", sess.SessionID).Logger(),
		sess:     sess,
		agg:      NewAggregator(),
		cmds:     make(chan func(), 64),
		closed:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	m.clock = NewClock(cfg.TickInterval, m.emitTick, m.emitExpired)

	go m.loop()
	return m
}

func (m *Machine) loop() {
	defer close(m.loopDone)
	for {
		select {
		case fn := <-m.cmds:
			fn()
		case <-m.closed:
			return
		}
	}
}

// enqueue schedules fn on the event loop without waiting. Used by the clocks.
func (m *Machine) enqueue(fn func()) {
	select {
	case m.cmds <- fn:
	case <-m.closed:
	}
}

// call runs fn on the event loop and waits for it.
func (m *Machine) call(fn func()) error {
	done := make(chan struct{})
	select {
	case m.cmds <- func() {
		defer close(done)
		fn()
	}:
	case <-m.closed:
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-m.loopDone:
		return ErrSessionClosed
	}
}

// Close tears the machine down: clocks stopped, loop exited. Idempotent.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		m.clock.Stop()
		if m.viva != nil {
			m.viva.stop()
		}
		close(m.closed)
	})
}

// ─── Clock emissions ────────────────────────────────────────────────

func (m *Machine) emitTick(remaining int) {
	m.enqueue(func() { m.handleTick(remaining) })
}

func (m *Machine) emitExpired() {
	m.enqueue(func() { m.handleExpired() })
}

func (m *Machine) handleTick(remaining int) {
	// Ticks are only meaningful while the main exam runs; anything after
	// Submitting was already in flight when the clock stopped.
	if m.sess.Status != model.SessionInProgress {
		return
	}
	if remaining < 0 {
		remaining = 0
	}
	m.sess.RemainingSeconds = remaining
}

func (m *Machine) handleExpired() {
	if m.sess.Status != model.SessionInProgress {
		return
	}
	m.sess.RemainingSeconds = 0
	m.log.Info().Msg("Time budget exhausted, auto-submitting")
	m.submit(ReasonTimeExpired)
}

// ─── Lifecycle operations ───────────────────────────────────────────

// Start moves NOT_STARTED → IN_PROGRESS and begins the countdown. Fails with
// ErrIdentityMissing when no caller identity was resolved.
func (m *Machine) Start() error {
	var err error
	if cerr := m.call(func() { err = m.start() }); cerr != nil {
		return cerr
	}
	return err
}

func (m *Machine) start() error {
	if m.sess.UserID == "" {
		return ErrIdentityMissing
	}
	if m.sess.Status != model.SessionNotStarted {
		return &InvalidStateError{Op: "start", Status: m.sess.Status}
	}
	m.sess.RemainingSeconds = m.sess.DurationSeconds
	if err := m.clock.Start(m.sess.DurationSeconds); err != nil {
		return err
	}
	m.sess.Status = model.SessionInProgress
	m.log.Info().Int("duration", m.sess.DurationSeconds).Msg("Session started")
	return nil
}

// SaveAnswer records a main-exam answer. Allowed only while IN_PROGRESS;
// during a viva, edits affect viva answers exclusively.
func (m *Machine) SaveAnswer(questionID, answer string) error {
	var err error
	if cerr := m.call(func() {
		if m.sess.Status != model.SessionInProgress {
			err = &InvalidStateError{Op: "save_answer", Status: m.sess.Status}
			return
		}
		m.sess.Answers[questionID] = answer
		if m.cfg.OnAnswerSaved != nil {
			m.cfg.OnAnswerSaved(questionID, answer)
		}
	}); cerr != nil {
		return cerr
	}
	return err
}

// RecordEvent ingests one proctoring event, returning the new per-type count
// and the policy verdict. A ForceSubmit verdict is applied before returning:
// the session transitions to SUBMITTING with any active viva discarded.
// Events arriving at or after SUBMITTING are rejected.
func (m *Machine) RecordEvent(eventType string, ts time.Time) (int, Verdict, error) {
	var (
		count   int
		verdict Verdict
		err     error
	)
	if cerr := m.call(func() {
		if m.sess.Status != model.SessionInProgress && m.sess.Status != model.SessionVivaActive {
			err = &InvalidStateError{Op: "record_event", Status: m.sess.Status}
			return
		}
		count = m.agg.Record(eventType)
		if m.cfg.OnEvent != nil {
			m.cfg.OnEvent(model.ProctoringEvent{
				SessionID: m.sess.SessionID,
				ExamID:    m.sess.ExamID,
				UserID:    m.sess.UserID,
				Type:      eventType,
				Timestamp: ts,
			})
		}
		verdict = m.agg.Evaluate(m.cfg.Policy)
		if verdict.ForceSubmit() {
			m.log.Warn().
				Str("event_type", eventType).
				Str("reason", verdict.Reason).
				Int("count", count).
				Msg("Violation policy tripped, forcing submission")
			m.submit(verdict.Reason)
		}
	}); cerr != nil {
		return 0, Verdict{}, cerr
	}
	return count, verdict, err
}

// TriggerViva interrupts the exam with a surprise viva: the main clock
// pauses, the session moves to VIVA_ACTIVE and a fresh attempt starts its
// own countdown. A trigger while an attempt is answering is logged and
// ignored (at most one concurrent viva per session), and a trigger racing an
// expired countdown is rejected so the pending submission wins.
func (m *Machine) TriggerViva(req model.VivaTriggerRequest) (string, error) {
	var (
		vivaID string
		err    error
	)
	if cerr := m.call(func() { vivaID, err = m.triggerViva(req) }); cerr != nil {
		return "", cerr
	}
	return vivaID, err
}

func (m *Machine) triggerViva(req model.VivaTriggerRequest) (string, error) {
	if m.sess.Status == model.SessionVivaActive && m.viva != nil && m.viva.Answering() {
		m.log.Warn().Str("viva_id", m.viva.attempt.VivaID).Msg("Viva trigger ignored, attempt already answering")
		return m.viva.attempt.VivaID, nil
	}
	if m.sess.Status != model.SessionInProgress {
		return "", &InvalidStateError{Op: "viva_trigger", Status: m.sess.Status}
	}
	// A dead countdown means expiry already fired and its submission is
	// queued behind this command; the trigger must lose to it.
	if !m.clock.Running() {
		return "", &InvalidStateError{Op: "viva_trigger", Status: m.sess.Status}
	}

	m.clock.Pause()

	vivaID := uuid.New().String()
	var v *VivaController
	v = newVivaController(
		vivaID,
		req.Questions,
		req.TimeLimitSeconds,
		req,
		m.cfg.TickInterval,
		func(remaining int) {
			m.enqueue(func() {
				if m.viva == v {
					v.setRemaining(remaining)
				}
			})
		},
		func() {
			m.enqueue(func() { m.finishViva(v, true) })
		},
		m.log,
	)
	if err := v.issue(); err != nil {
		m.clock.Resume()
		return "", err
	}
	m.viva = v
	m.sess.Status = model.SessionVivaActive
	return vivaID, nil
}

// VivaAnswer stores one viva answer; valid only while VIVA_ACTIVE.
func (m *Machine) VivaAnswer(questionKey, answer string) error {
	var err error
	if cerr := m.call(func() {
		if m.sess.Status != model.SessionVivaActive || m.viva == nil {
			err = ErrNoActiveViva
			return
		}
		err = m.viva.Answer(questionKey, answer)
	}); cerr != nil {
		return cerr
	}
	return err
}

// VivaAdvance moves the viva cursor forward; bounds-clamped.
func (m *Machine) VivaAdvance() (int, error) {
	return m.moveVivaCursor(func(v *VivaController) int { return v.Advance() })
}

// VivaRetreat moves the viva cursor backward; bounds-clamped.
func (m *Machine) VivaRetreat() (int, error) {
	return m.moveVivaCursor(func(v *VivaController) int { return v.Retreat() })
}

func (m *Machine) moveVivaCursor(move func(*VivaController) int) (int, error) {
	var (
		cursor int
		err    error
	)
	if cerr := m.call(func() {
		if m.sess.Status != model.SessionVivaActive || m.viva == nil {
			err = ErrNoActiveViva
			return
		}
		cursor = move(m.viva)
	}); cerr != nil {
		return 0, cerr
	}
	return cursor, err
}

// CompleteViva finalizes the active viva manually. Idempotent against the
// timeout firing in the same tick.
func (m *Machine) CompleteViva() error {
	var err error
	if cerr := m.call(func() {
		if m.sess.Status != model.SessionVivaActive || m.viva == nil {
			err = ErrNoActiveViva
			return
		}
		m.finishViva(m.viva, false)
	}); cerr != nil {
		return cerr
	}
	return err
}

// finishViva ends a viva attempt, submits its answers separately from the
// main exam, and hands control back: clock resumed from the paused value,
// session back to IN_PROGRESS.
func (m *Machine) finishViva(v *VivaController, timedOut bool) {
	// A stale timeout can arrive after a force-submit discarded the attempt.
	if m.viva != v || m.sess.Status != model.SessionVivaActive {
		return
	}

	var (
		answers map[string]string
		ok      bool
	)
	if timedOut {
		answers, ok = v.timeout()
	} else {
		answers, ok = v.Complete()
	}
	if !ok {
		return
	}

	// Viva answers go to the backend off the loop: the submission is
	// best-effort, nothing below depends on its result, and the session
	// must not stall on a slow grading call.
	go m.submitViva(answers, timedOut)

	m.viva = nil
	m.clock.Resume()
	m.sess.Status = model.SessionInProgress

	// The main countdown can die while paused: an expiry that landed during
	// the viva was dropped by the VIVA_ACTIVE guard, so settle it here.
	if !m.clock.Running() {
		m.sess.RemainingSeconds = 0
		m.log.Info().Msg("Time budget exhausted during viva, auto-submitting")
		m.submit(ReasonTimeExpired)
	}
}

// submitViva sends a finished attempt's answers. Runs off the event loop and
// touches only immutable session fields; a failure never fails the session.
func (m *Machine) submitViva(answers map[string]string, timedOut bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SubmitTimeout)
	defer cancel()

	res, err := m.cfg.Gateway.SubmitViva(ctx, m.cfg.Session.SessionID, m.cfg.Session.UserID, answers)
	if err != nil {
		m.log.Error().Err(err).Bool("timed_out", timedOut).Msg("Viva submission failed")
		return
	}
	m.log.Info().
		Float64("score", res.Score).
		Int("answered", len(answers)).
		Bool("timed_out", timedOut).
		Msg("Viva submitted")
}

// End performs a manual exam end. The confirmation step is external to the
// machine: callers pass confirmed=true only after the user confirmed.
func (m *Machine) End(confirmed bool) error {
	var err error
	if cerr := m.call(func() {
		if !confirmed {
			err = ErrConfirmationRequired
			return
		}
		if m.sess.Status != model.SessionInProgress {
			err = &InvalidStateError{Op: "end", Status: m.sess.Status}
			return
		}
		err = m.submit(ReasonManualEnd)
	}); cerr != nil {
		return cerr
	}
	return err
}

// Retry re-enters SUBMITTING from FAILED as a fresh attempt. Explicit caller
// action only; the machine never retries a failed submission on its own.
func (m *Machine) Retry() error {
	var err error
	if cerr := m.call(func() {
		if m.sess.Status != model.SessionFailed {
			err = &InvalidStateError{Op: "retry", Status: m.sess.Status}
			return
		}
		err = m.submit(m.submitReason)
	}); cerr != nil {
		return cerr
	}
	return err
}

// submit runs the terminal transition: SUBMITTING, then exactly one gateway
// call, then COMPLETED or FAILED. Any active viva is discarded, not
// submitted. Runs on the event loop, so no other input is processed while
// the submission is in flight, and the status guard in every handler rejects
// whatever was already queued.
func (m *Machine) submit(reason string) error {
	m.clock.Stop()
	if m.viva != nil {
		m.log.Info().Str("viva_id", m.viva.attempt.VivaID).Msg("Discarding active viva for forced submission")
		m.viva.stop()
		m.viva = nil
	}

	m.sess.Status = model.SessionSubmitting
	m.submitReason = reason
	elapsed := m.sess.DurationSeconds - m.sess.RemainingSeconds

	answers := make(map[string]string, len(m.sess.Answers))
	for k, v := range m.sess.Answers {
		answers[k] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SubmitTimeout)
	defer cancel()

	res, err := m.cfg.Gateway.SubmitExam(ctx, m.sess.ExamID, m.sess.SessionID, m.sess.UserID, answers, elapsed)
	if err != nil {
		m.sess.Status = model.SessionFailed
		m.submitErr = err
		m.log.Error().Err(err).Str("reason", reason).Msg("Submission failed")
		if m.cfg.OnTerminal != nil {
			m.cfg.OnTerminal(model.SessionFailed)
		}
		return err
	}

	m.result = res
	m.submitErr = nil
	m.sess.Status = model.SessionCompleted
	m.log.Info().Str("reason", reason).Int("time_taken", elapsed).Msg("Session completed")
	if m.cfg.OnTerminal != nil {
		m.cfg.OnTerminal(model.SessionCompleted)
	}
	return nil
}

// ─── Introspection ──────────────────────────────────────────────────

// SessionID returns the immutable backend-assigned session identifier.
func (m *Machine) SessionID() string {
	return m.cfg.Session.SessionID
}

// UserID returns the identity the session was started with.
func (m *Machine) UserID() string {
	return m.cfg.Session.UserID
}

// ExamID returns the exam this session attempts.
func (m *Machine) ExamID() string {
	return m.cfg.Session.ExamID
}

// SubmitError returns the error of the last failed submission, if any.
func (m *Machine) SubmitError() error {
	var err error
	_ = m.call(func() { err = m.submitErr })
	return err
}

// Snapshot returns a consistent read-only copy of session state.
func (m *Machine) Snapshot() (model.SessionSnapshot, error) {
	var snap model.SessionSnapshot
	if cerr := m.call(func() {
		answers := make(map[string]string, len(m.sess.Answers))
		for k, v := range m.sess.Answers {
			answers[k] = v
		}
		snap = model.SessionSnapshot{
			SessionID:        m.sess.SessionID,
			ExamID:           m.sess.ExamID,
			UserID:           m.sess.UserID,
			Status:           m.sess.Status,
			DurationSeconds:  m.sess.DurationSeconds,
			RemainingSeconds: m.sess.RemainingSeconds,
			AnswerCount:      len(answers),
			Answers:          answers,
			ViolationCounts:  m.agg.Counts(),
			SubmitReason:     m.submitReason,
			Result:           m.result,
		}
		if m.viva != nil {
			snap.Viva = m.viva.Snapshot()
		}
	}); cerr != nil {
		return model.SessionSnapshot{}, cerr
	}
	return snap, nil
}
