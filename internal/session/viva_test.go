package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestQuestionKeyPrecedence(t *testing.T) {
	// Numeric id wins even when a string id is also present.
	q := model.VivaQuestion{ID: int64Ptr(42), QuestionID: "q-string", QuestionText: "?"}
	assert.Equal(t, "42", QuestionKey(q, 0))

	// String id next.
	q = model.VivaQuestion{QuestionID: "q-string", QuestionText: "?"}
	assert.Equal(t, "q-string", QuestionKey(q, 0))

	// Positional synthetic key last.
	q = model.VivaQuestion{QuestionText: "?"}
	assert.Equal(t, "question_3", QuestionKey(q, 3))
}

func testVivaQuestions() []model.VivaQuestion {
	return []model.VivaQuestion{
		{ID: int64Ptr(10), QuestionText: "Explain your approach to problem 1."},
		{QuestionID: "vq-2", QuestionText: "Walk through your answer to problem 2."},
		{QuestionText: "What would you change?"},
	}
}

func newTestViva(t *testing.T, timeLimit int, onExpire func()) *VivaController {
	t.Helper()
	if onExpire == nil {
		onExpire = func() {}
	}
	v := newVivaController(
		"viva-1",
		testVivaQuestions(),
		timeLimit,
		model.VivaTriggerRequest{TriggerReason: "low_confidence"},
		testTick,
		func(int) {},
		onExpire,
		zerolog.Nop(),
	)
	require.NoError(t, v.issue())
	return v
}

func TestVivaIssueStartsAnswering(t *testing.T) {
	v := newTestViva(t, 1000, nil)
	defer v.stop()

	assert.Equal(t, VivaAnswering, v.State())
	assert.True(t, v.Answering())

	// Issue is not re-entrant.
	assert.Error(t, v.issue())
}

func TestVivaAnswerLastWriteWins(t *testing.T) {
	v := newTestViva(t, 1000, nil)
	defer v.stop()

	require.NoError(t, v.Answer("10", "first"))
	require.NoError(t, v.Answer("10", "second"))
	require.Error(t, v.Answer("", "unkeyed"))

	answers, ok := v.Complete()
	require.True(t, ok)
	assert.Equal(t, map[string]string{"10": "second"}, answers)
}

func TestVivaCursorClamped(t *testing.T) {
	v := newTestViva(t, 1000, nil)
	defer v.stop()

	assert.Equal(t, 0, v.Retreat())
	assert.Equal(t, 1, v.Advance())
	assert.Equal(t, 2, v.Advance())
	assert.Equal(t, 2, v.Advance())
	assert.Equal(t, 1, v.Retreat())
}

func TestVivaCompleteIdempotent(t *testing.T) {
	v := newTestViva(t, 1000, nil)

	_, ok := v.Complete()
	require.True(t, ok)
	assert.Equal(t, VivaCompleted, v.State())

	// Second completion and late timeout are both no-ops.
	_, ok = v.Complete()
	assert.False(t, ok)
	_, ok = v.timeout()
	assert.False(t, ok)
	assert.Equal(t, VivaCompleted, v.State())
}

func TestVivaTimeoutPackagesPartialAnswers(t *testing.T) {
	expired := make(chan struct{})
	v := newTestViva(t, 2, func() { close(expired) })

	require.NoError(t, v.Answer("vq-2", "halfway"))

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("viva clock never expired")
	}

	answers, ok := v.timeout()
	require.True(t, ok)
	assert.Equal(t, map[string]string{"vq-2": "halfway"}, answers)
	assert.Equal(t, VivaTimedOut, v.State())
	assert.False(t, v.Answering())
}

func TestVivaTimeoutWithNoAnswers(t *testing.T) {
	v := newTestViva(t, 1000, nil)

	answers, ok := v.timeout()
	require.True(t, ok)
	assert.Empty(t, answers)
	assert.Equal(t, VivaTimedOut, v.State())
}

func TestVivaDefaultConfidence(t *testing.T) {
	v := newVivaController("viva-2", testVivaQuestions(), 60,
		model.VivaTriggerRequest{}, testTick, func(int) {}, func() {}, zerolog.Nop())
	assert.Equal(t, model.DefaultVivaConfidence, v.attempt.ConfidenceLevel)

	v = newVivaController("viva-3", testVivaQuestions(), 60,
		model.VivaTriggerRequest{ConfidenceLevel: 0.4}, testTick, func(int) {}, func() {}, zerolog.Nop())
	assert.Equal(t, 0.4, v.attempt.ConfidenceLevel)
}

func TestVivaSnapshotCopiesAnswers(t *testing.T) {
	v := newTestViva(t, 1000, nil)
	defer v.stop()

	require.NoError(t, v.Answer("10", "mine"))
	snap := v.Snapshot()
	snap.Answers["10"] = "tampered"

	assert.Equal(t, "mine", v.attempt.Answers["10"])
	assert.Equal(t, 3, snap.QuestionCount)
	assert.Equal(t, string(VivaAnswering), snap.State)
}
