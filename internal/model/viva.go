package model

// VivaQuestion is one question of a surprise viva, fixed once issued.
// Identifier fields are deliberately loose: the triggering service sends
// questions with a numeric id, a string id, or no id at all.
type VivaQuestion struct {
	ID               *int64 `json:"id,omitempty"`
	QuestionID       string `json:"question_id,omitempty"`
	QuestionText     string `json:"question_text" binding:"required"`
	ExpectedAnswer   string `json:"expected_answer,omitempty"`
	TimeLimitSeconds int    `json:"time_limit_seconds,omitempty"`
}

// VivaAttempt is one triggered surprise-viva instance. At most one attempt
// is active per session.
type VivaAttempt struct {
	VivaID           string            `json:"viva_id"`
	Questions        []VivaQuestion    `json:"questions"`
	Answers          map[string]string `json:"answers"`
	TimeRemaining    int               `json:"time_remaining"`
	TimeLimitSeconds int               `json:"time_limit_seconds"`
	TriggerReason    string            `json:"trigger_reason,omitempty"`
	ConfidenceLevel  float64           `json:"confidence_level"`
}

// VivaSnapshot is the viva slice of a session snapshot.
type VivaSnapshot struct {
	VivaID        string            `json:"viva_id"`
	State         string            `json:"state"`
	QuestionCount int               `json:"question_count"`
	Cursor        int               `json:"cursor"`
	TimeRemaining int               `json:"time_remaining"`
	Answers       map[string]string `json:"answers"`
}

// VivaResult is the backend's scored acknowledgment of a viva submission.
type VivaResult struct {
	SessionID      string  `json:"session_id"`
	Score          float64 `json:"score"`
	TotalQuestions int     `json:"total_questions"`
	Message        string  `json:"message,omitempty"`
}

// ─── Request payloads ───────────────────────────────────────────────

// DefaultVivaConfidence is assumed when a trigger omits confidence_level.
const DefaultVivaConfidence = 0.8

// VivaTriggerRequest is the inbound signal that interrupts an exam with a
// surprise viva.
type VivaTriggerRequest struct {
	ExamID           string         `json:"exam_id,omitempty"`
	ConfidenceLevel  float64        `json:"confidence_level,omitempty"`
	TriggerReason    string         `json:"trigger_reason,omitempty"`
	Questions        []VivaQuestion `json:"questions" binding:"required,min=1,dive"`
	TimeLimitSeconds int            `json:"time_limit_seconds" binding:"required,min=1"`
}

// VivaAnswerRequest is the payload for answering one viva question.
// Content is intentionally unvalidated; an empty answer overwrites.
type VivaAnswerRequest struct {
	Answer string `json:"answer"`
}
