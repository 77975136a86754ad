package model

import "time"

// Well-known proctoring event types. The set is open-ended: the aggregator
// treats any type as an opaque key, these constants only name the ones with
// evaluation rules or common producers.
const (
	EventTabSwitch       = "tab_switch"
	EventCopyPaste       = "copy_paste"
	EventFaceNotDetected = "face_not_detected"
	EventNetworkAnomaly  = "network_anomaly"
)

// ProctoringEvent is one monitoring signal recorded during an exam attempt.
type ProctoringEvent struct {
	SessionID string    `json:"session_id"`
	ExamID    string    `json:"exam_id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ViolationPolicy configures how accumulated proctoring events are judged.
// Only tab-switch enforcement is evaluated here; the remaining fields are
// carried for wire compatibility and enforced by the external monitoring
// collaborator.
type ViolationPolicy struct {
	AllowTabSwitch     bool `json:"allow_tab_switch"`
	MaxTabSwitches     int  `json:"max_tab_switches"`
	AllowCopyPaste     bool `json:"allow_copy_paste"`
	FullscreenRequired bool `json:"fullscreen_required"`
}

// DefaultViolationPolicy permits capped tab switching.
func DefaultViolationPolicy() ViolationPolicy {
	return ViolationPolicy{
		AllowTabSwitch: true,
		MaxTabSwitches: 3,
		AllowCopyPaste: false,
	}
}
