package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/model"
)

// VivaState enumerates the nested viva sub-machine states.
type VivaState string

const (
	VivaIdle      VivaState = "IDLE"
	VivaIssued    VivaState = "ISSUED"
	VivaAnswering VivaState = "ANSWERING"
	VivaCompleted VivaState = "COMPLETED"
	VivaTimedOut  VivaState = "TIMED_OUT"
)

// QuestionKey resolves the submission key for a viva question. The precedence
// is fixed for backend compatibility and must not change: numeric id
// (stringified), then the supplied string id, then a positional synthetic
// "question_<index>". The triggering service is inconsistent about which
// identifier shape it sends, hence the ordered fallback.
func QuestionKey(q model.VivaQuestion, index int) string {
	if q.ID != nil {
		return strconv.FormatInt(*q.ID, 10)
	}
	if q.QuestionID != "" {
		return q.QuestionID
	}
	return fmt.Sprintf("question_%d", index)
}

// VivaController runs one surprise-viva attempt: an ordered question set, a
// cursor, per-question answers, and an independent countdown that forces
// completion on timeout.
//
// The controller is owned by the session machine and only touched from its
// event loop; the countdown's callbacks are routed back into that loop by
// the machine.
type VivaController struct {
	attempt *model.VivaAttempt
	state   VivaState
	cursor  int
	clock   *Clock
	keys    []string
	log     zerolog.Logger
}

func newVivaController(
	vivaID string,
	questions []model.VivaQuestion,
	timeLimitSeconds int,
	trigger model.VivaTriggerRequest,
	clockInterval time.Duration,
	onTick func(remaining int),
	onExpire func(),
	log zerolog.Logger,
) *VivaController {
	keys := make([]string, len(questions))
	for i, q := range questions {
		keys[i] = QuestionKey(q, i)
	}

	confidence := trigger.ConfidenceLevel
	if confidence == 0 {
		confidence = model.DefaultVivaConfidence
	}

	return &VivaController{
		attempt: &model.VivaAttempt{
			VivaID:           vivaID,
			Questions:        questions,
			Answers:          make(map[string]string),
			TimeRemaining:    timeLimitSeconds,
			TimeLimitSeconds: timeLimitSeconds,
			TriggerReason:    trigger.TriggerReason,
			ConfidenceLevel:  confidence,
		},
		state: VivaIdle,
		clock: NewClock(clockInterval, onTick, onExpire),
		keys:  keys,
		log:   log.With().Str("viva_id", vivaID).Logger(),
	}
}

// issue transitions Idle → Issued → Answering atomically and starts the viva
// countdown. Question set and time limit are fixed from this point on.
func (v *VivaController) issue() error {
	if v.state != VivaIdle {
		return &InvalidStateError{Op: "viva.issue", Status: model.SessionVivaActive}
	}
	v.state = VivaIssued
	if err := v.clock.Start(v.attempt.TimeLimitSeconds); err != nil {
		return err
	}
	v.state = VivaAnswering
	v.log.Info().
		Int("questions", len(v.attempt.Questions)).
		Int("time_limit", v.attempt.TimeLimitSeconds).
		Msg("Viva issued")
	return nil
}

// State returns the current sub-machine state.
func (v *VivaController) State() VivaState {
	return v.state
}

// Answering reports whether the attempt currently accepts answers.
func (v *VivaController) Answering() bool {
	return v.state == VivaAnswering
}

// Answer stores text under questionKey; last write per key wins and content
// is not validated. Allowed only while Answering.
func (v *VivaController) Answer(questionKey, text string) error {
	if v.state != VivaAnswering {
		return ErrNoActiveViva
	}
	if questionKey == "" {
		return fmt.Errorf("empty viva question key")
	}
	v.attempt.Answers[questionKey] = text
	return nil
}

// Advance moves the cursor forward, clamped at the last question.
func (v *VivaController) Advance() int {
	if v.cursor < len(v.attempt.Questions)-1 {
		v.cursor++
	}
	return v.cursor
}

// Retreat moves the cursor backward, clamped at the first question.
func (v *VivaController) Retreat() int {
	if v.cursor > 0 {
		v.cursor--
	}
	return v.cursor
}

// Complete finalizes the attempt manually. Returns the packaged answers and
// true on the first call from Answering; any later call is ignored (false),
// which guards against a manual completion and a timeout landing in the same
// tick.
func (v *VivaController) Complete() (map[string]string, bool) {
	return v.finish(VivaCompleted)
}

// timeout finalizes the attempt with whatever answers were entered,
// including none.
func (v *VivaController) timeout() (map[string]string, bool) {
	return v.finish(VivaTimedOut)
}

func (v *VivaController) finish(terminal VivaState) (map[string]string, bool) {
	if v.state != VivaAnswering {
		return nil, false
	}
	v.state = terminal
	v.clock.Stop()

	answers := make(map[string]string, len(v.attempt.Answers))
	for k, val := range v.attempt.Answers {
		answers[k] = val
	}
	return answers, true
}

// setRemaining records a tick from the viva countdown.
func (v *VivaController) setRemaining(remaining int) {
	if remaining < 0 {
		remaining = 0
	}
	v.attempt.TimeRemaining = remaining
}

// stop halts the viva countdown without completing, used when the parent
// machine discards the attempt on force-submit.
func (v *VivaController) stop() {
	v.clock.Stop()
}

// Snapshot returns a read-only copy of the attempt for clients.
func (v *VivaController) Snapshot() *model.VivaSnapshot {
	answers := make(map[string]string, len(v.attempt.Answers))
	for k, val := range v.attempt.Answers {
		answers[k] = val
	}
	return &model.VivaSnapshot{
		VivaID:        v.attempt.VivaID,
		State:         string(v.state),
		QuestionCount: len(v.attempt.Questions),
		Cursor:        v.cursor,
		TimeRemaining: v.attempt.TimeRemaining,
		Answers:       answers,
	}
}
