package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type examCall struct {
	examID    string
	sessionID string
	userID    string
	answers   map[string]string
	elapsed   int
}

type vivaCall struct {
	sessionID string
	userID    string
	answers   map[string]string
}

// fakeGateway records submissions and can be told to fail or stall.
type fakeGateway struct {
	mu        sync.Mutex
	examCalls []examCall
	vivaCalls []vivaCall
	examErr   error
	delay     time.Duration
	vivaDelay time.Duration
}

func (g *fakeGateway) SubmitExam(_ context.Context, examID, sessionID, userID string, answers map[string]string, elapsed int) (*model.SubmitResult, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.examCalls = append(g.examCalls, examCall{examID, sessionID, userID, answers, elapsed})
	if g.examErr != nil {
		return nil, g.examErr
	}
	score := 87.5
	return &model.SubmitResult{SessionID: sessionID, Score: &score}, nil
}

func (g *fakeGateway) SubmitViva(_ context.Context, sessionID, userID string, answers map[string]string) (*model.VivaResult, error) {
	if g.vivaDelay > 0 {
		time.Sleep(g.vivaDelay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vivaCalls = append(g.vivaCalls, vivaCall{sessionID, userID, answers})
	return &model.VivaResult{SessionID: sessionID, Score: 1, TotalQuestions: len(answers)}, nil
}

func (g *fakeGateway) exams() []examCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]examCall(nil), g.examCalls...)
}

func (g *fakeGateway) vivas() []vivaCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]vivaCall(nil), g.vivaCalls...)
}

func (g *fakeGateway) setExamErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.examErr = err
}

func newTestMachine(t *testing.T, gw *fakeGateway, duration int, policy model.ViolationPolicy) *Machine {
	t.Helper()
	m := New(Config{
		Session: model.ExamSession{
			SessionID:       "sess-1",
			ExamID:          "exam-1",
			UserID:          "user-1",
			DurationSeconds: duration,
		},
		Policy:       policy,
		Gateway:      gw,
		Log:          zerolog.Nop(),
		TickInterval: testTick,
	})
	t.Cleanup(m.Close)
	return m
}

func testTrigger(timeLimit int) model.VivaTriggerRequest {
	return model.VivaTriggerRequest{
		ExamID:           "exam-1",
		TriggerReason:    "low_confidence",
		Questions:        testVivaQuestions(),
		TimeLimitSeconds: timeLimit,
	}
}

func waitStatus(t *testing.T, m *Machine, want model.SessionStatus) model.SessionSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.Snapshot()
		require.NoError(t, err)
		if snap.Status == want {
			return snap
		}
		time.Sleep(testTick)
	}
	snap, _ := m.Snapshot()
	t.Fatalf("status never reached %s, last was %s", want, snap.Status)
	return model.SessionSnapshot{}
}

func TestMachineStartRequiresIdentity(t *testing.T) {
	m := New(Config{
		Session:      model.ExamSession{SessionID: "sess-1", ExamID: "exam-1", DurationSeconds: 60},
		Gateway:      &fakeGateway{},
		Log:          zerolog.Nop(),
		TickInterval: testTick,
	})
	defer m.Close()

	assert.ErrorIs(t, m.Start(), ErrIdentityMissing)

	snap, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, model.SessionNotStarted, snap.Status)
}

func TestMachineManualEndSubmitsElapsedTime(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())
	require.NoError(t, m.SaveAnswer("q1", "answer one"))
	require.NoError(t, m.SaveAnswer("q2", "answer two"))
	require.NoError(t, m.SaveAnswer("q1", "answer one revised"))

	// End without confirmation is refused and changes nothing.
	assert.ErrorIs(t, m.End(false), ErrConfirmationRequired)
	snap, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, model.SessionInProgress, snap.Status)

	time.Sleep(10 * testTick)
	require.NoError(t, m.End(true))

	snap = waitStatus(t, m, model.SessionCompleted)
	assert.Equal(t, ReasonManualEnd, snap.SubmitReason)
	require.NotNil(t, snap.Result)

	calls := gw.exams()
	require.Len(t, calls, 1)
	assert.Equal(t, "exam-1", calls[0].examID)
	assert.Equal(t, "user-1", calls[0].userID)
	assert.Equal(t, map[string]string{"q1": "answer one revised", "q2": "answer two"}, calls[0].answers)
	assert.Equal(t, snap.DurationSeconds-snap.RemainingSeconds, calls[0].elapsed)
	assert.Greater(t, calls[0].elapsed, 0)
}

func TestMachineTimeExpiryAutoSubmits(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 3, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())
	snap := waitStatus(t, m, model.SessionCompleted)

	assert.Equal(t, ReasonTimeExpired, snap.SubmitReason)
	assert.Equal(t, 0, snap.RemainingSeconds)

	calls := gw.exams()
	require.Len(t, calls, 1)
	assert.Equal(t, 3, calls[0].elapsed)
}

func TestMachineForcedSubmitOnForbiddenTabSwitch(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.ViolationPolicy{AllowTabSwitch: false})

	require.NoError(t, m.Start())

	count, verdict, err := m.RecordEvent(model.EventTabSwitch, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, verdict.ForceSubmit())
	assert.Equal(t, ReasonTabSwitchForbidden, verdict.Reason)

	snap := waitStatus(t, m, model.SessionCompleted)
	assert.Equal(t, ReasonTabSwitchForbidden, snap.SubmitReason)
	require.Len(t, gw.exams(), 1)
}

func TestMachineForcedSubmitOnThirdTabSwitch(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.ViolationPolicy{AllowTabSwitch: true, MaxTabSwitches: 3})

	require.NoError(t, m.Start())

	for i := 1; i <= 2; i++ {
		count, verdict, err := m.RecordEvent(model.EventTabSwitch, time.Now())
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.False(t, verdict.ForceSubmit())
	}

	count, verdict, err := m.RecordEvent(model.EventTabSwitch, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, ReasonTabSwitchLimit, verdict.Reason)

	// Anything after the terminal transition is rejected.
	waitStatus(t, m, model.SessionCompleted)
	_, _, err = m.RecordEvent(model.EventTabSwitch, time.Now())
	assert.True(t, IsInvalidState(err))
}

func TestMachineVivaPausesMainClock(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())
	time.Sleep(5 * testTick)

	vivaID, err := m.TriggerViva(testTrigger(1000))
	require.NoError(t, err)
	require.NotEmpty(t, vivaID)

	snap, err := m.Snapshot()
	require.NoError(t, err)
	require.Equal(t, model.SessionVivaActive, snap.Status)
	frozen := snap.RemainingSeconds

	// Main countdown holds while the viva runs.
	time.Sleep(10 * testTick)
	snap, err = m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, frozen, snap.RemainingSeconds)
	require.NotNil(t, snap.Viva)
	assert.Equal(t, string(VivaAnswering), snap.Viva.State)

	// Main-exam edits are refused during the viva.
	err = m.SaveAnswer("q1", "late edit")
	assert.True(t, IsInvalidState(err))

	require.NoError(t, m.VivaAnswer("10", "my viva answer"))
	require.NoError(t, m.CompleteViva())

	snap = waitStatus(t, m, model.SessionInProgress)
	assert.Nil(t, snap.Viva)
	// Resumes from the frozen value; at most one tick may have landed since.
	assert.InDelta(t, frozen, snap.RemainingSeconds, 1)

	// The viva submission completes off the loop.
	require.Eventually(t, func() bool { return len(gw.vivas()) == 1 }, 2*time.Second, testTick)
	vivas := gw.vivas()
	assert.Equal(t, "sess-1", vivas[0].sessionID)
	assert.Equal(t, map[string]string{"10": "my viva answer"}, vivas[0].answers)
}

func TestMachineSecondVivaTriggerIgnoredWhileAnswering(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())

	first, err := m.TriggerViva(testTrigger(1000))
	require.NoError(t, err)

	second, err := m.TriggerViva(testTrigger(1000))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	snap, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, first, snap.Viva.VivaID)
}

func TestMachineVivaTimeoutSubmitsPartialAnswers(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())

	_, err := m.TriggerViva(testTrigger(3))
	require.NoError(t, err)
	require.NoError(t, m.VivaAnswer("vq-2", "partial"))

	// The viva clock expires on its own and hands control back.
	snap := waitStatus(t, m, model.SessionInProgress)
	assert.Nil(t, snap.Viva)

	require.Eventually(t, func() bool { return len(gw.vivas()) == 1 }, 2*time.Second, testTick)
	assert.Equal(t, map[string]string{"vq-2": "partial"}, gw.vivas()[0].answers)

	assert.ErrorIs(t, m.VivaAnswer("vq-2", "too late"), ErrNoActiveViva)
}

func TestMachineForcedSubmitDiscardsActiveViva(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.ViolationPolicy{AllowTabSwitch: false})

	require.NoError(t, m.Start())
	_, err := m.TriggerViva(testTrigger(1000))
	require.NoError(t, err)
	require.NoError(t, m.VivaAnswer("10", "doomed"))

	_, verdict, err := m.RecordEvent(model.EventTabSwitch, time.Now())
	require.NoError(t, err)
	require.True(t, verdict.ForceSubmit())

	waitStatus(t, m, model.SessionCompleted)

	// The discarded viva is never submitted; the exam is.
	time.Sleep(10 * testTick)
	assert.Empty(t, gw.vivas())
	require.Len(t, gw.exams(), 1)
}

func TestMachineVivaTriggerLosesToPendingExpiry(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())

	// The countdown has fired but its expiry has not been processed yet:
	// the clock is already dead while the status is still IN_PROGRESS.
	m.clock.Stop()

	_, err := m.TriggerViva(testTrigger(1000))
	assert.True(t, IsInvalidState(err))

	// The in-flight expiry lands and must still submit the exam.
	m.emitExpired()
	snap := waitStatus(t, m, model.SessionCompleted)
	assert.Equal(t, ReasonTimeExpired, snap.SubmitReason)
	assert.Equal(t, 0, snap.RemainingSeconds)
	require.Len(t, gw.exams(), 1)
}

func TestMachineExpiryDuringVivaSettlesOnCompletion(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())
	_, err := m.TriggerViva(testTrigger(1000))
	require.NoError(t, err)
	require.NoError(t, m.VivaAnswer("10", "spoken"))

	// The main countdown dies while paused; the expiry it emitted was
	// dropped by the viva guard, so finishing the viva must settle it.
	m.clock.Stop()

	require.NoError(t, m.CompleteViva())
	snap := waitStatus(t, m, model.SessionCompleted)
	assert.Equal(t, ReasonTimeExpired, snap.SubmitReason)
	assert.Equal(t, 0, snap.RemainingSeconds)
	require.Len(t, gw.exams(), 1)

	// The viva answers still reach the backend.
	require.Eventually(t, func() bool { return len(gw.vivas()) == 1 }, 2*time.Second, testTick)
	assert.Equal(t, map[string]string{"10": "spoken"}, gw.vivas()[0].answers)
}

func TestMachineVivaSubmitDoesNotBlockLoop(t *testing.T) {
	gw := &fakeGateway{vivaDelay: 200 * time.Millisecond}
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())
	_, err := m.TriggerViva(testTrigger(1000))
	require.NoError(t, err)
	require.NoError(t, m.CompleteViva())

	// The session is responsive immediately, long before the slow viva
	// submission finishes.
	start := time.Now()
	require.NoError(t, m.SaveAnswer("q1", "right after the viva"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.Eventually(t, func() bool { return len(gw.vivas()) == 1 }, 2*time.Second, testTick)
}

func TestMachineVivaCursorMoves(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())
	_, err := m.TriggerViva(testTrigger(1000))
	require.NoError(t, err)

	cursor, err := m.VivaAdvance()
	require.NoError(t, err)
	assert.Equal(t, 1, cursor)

	cursor, err = m.VivaRetreat()
	require.NoError(t, err)
	assert.Equal(t, 0, cursor)

	cursor, err = m.VivaRetreat()
	require.NoError(t, err)
	assert.Equal(t, 0, cursor)
}

func TestMachineSubmitFailureAndRetry(t *testing.T) {
	gw := &fakeGateway{}
	gw.setExamErr(errors.New("backend unreachable"))
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())
	require.NoError(t, m.SaveAnswer("q1", "kept across retries"))

	err := m.End(true)
	require.Error(t, err)

	snap, serr := m.Snapshot()
	require.NoError(t, serr)
	assert.Equal(t, model.SessionFailed, snap.Status)
	assert.Error(t, m.SubmitError())

	// No input is accepted in FAILED; the machine never retries by itself.
	assert.True(t, IsInvalidState(m.SaveAnswer("q2", "ignored")))
	_, _, err = m.RecordEvent(model.EventTabSwitch, time.Now())
	assert.True(t, IsInvalidState(err))
	require.Len(t, gw.exams(), 1)

	gw.setExamErr(nil)
	require.NoError(t, m.Retry())

	snap = waitStatus(t, m, model.SessionCompleted)
	assert.Equal(t, ReasonManualEnd, snap.SubmitReason)
	assert.NoError(t, m.SubmitError())

	calls := gw.exams()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].answers, calls[1].answers)
}

func TestMachineRejectsInputWhileSubmitting(t *testing.T) {
	gw := &fakeGateway{delay: 50 * time.Millisecond}
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())

	endDone := make(chan error, 1)
	go func() { endDone <- m.End(true) }()

	// Queued behind the in-flight submission; rejected once the loop frees up.
	time.Sleep(10 * time.Millisecond)
	err := m.SaveAnswer("q1", "mid-submit")
	assert.True(t, IsInvalidState(err))

	require.NoError(t, <-endDone)
	require.Len(t, gw.exams(), 1)
}

func TestMachineDoubleEndRejected(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())
	require.NoError(t, m.End(true))

	assert.True(t, IsInvalidState(m.End(true)))
	assert.True(t, IsInvalidState(m.Retry()))
	require.Len(t, gw.exams(), 1)
}

func TestMachineCloseRejectsFurtherCalls(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, gw, 1000, model.DefaultViolationPolicy())

	require.NoError(t, m.Start())
	m.Close()
	m.Close()

	assert.ErrorIs(t, m.SaveAnswer("q1", "after close"), ErrSessionClosed)
	_, err := m.Snapshot()
	assert.ErrorIs(t, err, ErrSessionClosed)
}
