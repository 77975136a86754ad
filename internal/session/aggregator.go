package session

import (
	"github.com/sensai-labs/proctor-client/internal/model"
)

// Submit reasons carried into the backend submission and the session snapshot.
const (
	ReasonTimeExpired        = "time_expired"
	ReasonManualEnd          = "manual_end"
	ReasonTabSwitchForbidden = "tab_switch_not_allowed"
	ReasonTabSwitchLimit     = "tab_switch_limit_exceeded"
)

// VerdictAction is the aggregator's judgment of the current counters.
type VerdictAction string

const (
	VerdictContinue    VerdictAction = "CONTINUE"
	VerdictForceSubmit VerdictAction = "FORCE_SUBMIT"
)

// Verdict is the outcome of evaluating violation counters against a policy.
type Verdict struct {
	Action VerdictAction `json:"action"`
	Reason string        `json:"reason,omitempty"`
}

// ForceSubmit reports whether the verdict demands an immediate submission.
func (v Verdict) ForceSubmit() bool {
	return v.Action == VerdictForceSubmit
}

// Aggregator accumulates proctoring events per type for the lifetime of one
// session. Types are opaque keys: unknown categories are counted like any
// other. Counters only ever increase.
//
// The aggregator is owned by the session machine and is not safe for
// concurrent use on its own.
type Aggregator struct {
	counts map[string]int
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{counts: make(map[string]int)}
}

// Record increments the counter for eventType and returns the new count.
func (a *Aggregator) Record(eventType string) int {
	a.counts[eventType]++
	return a.counts[eventType]
}

// Count returns the current counter for eventType.
func (a *Aggregator) Count(eventType string) int {
	return a.counts[eventType]
}

// Counts returns a copy of all counters.
func (a *Aggregator) Counts() map[string]int {
	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// Evaluate judges the current counters against the policy. Pure: the verdict
// is fully determined by counters and policy, and nothing is mutated.
//
// Tab-switch rules:
//   - allow_tab_switch=false: any recorded tab switch forces submission,
//     independent of the numeric threshold.
//   - allow_tab_switch=true with max_tab_switches>0: reaching the cap forces
//     submission.
//
// All other policy fields are reserved for the external monitoring
// collaborator and are not evaluated here.
func (a *Aggregator) Evaluate(policy model.ViolationPolicy) Verdict {
	tabSwitches := a.counts[model.EventTabSwitch]

	if tabSwitches > 0 && !policy.AllowTabSwitch {
		return Verdict{Action: VerdictForceSubmit, Reason: ReasonTabSwitchForbidden}
	}
	if policy.AllowTabSwitch && policy.MaxTabSwitches > 0 && tabSwitches >= policy.MaxTabSwitches {
		return Verdict{Action: VerdictForceSubmit, Reason: ReasonTabSwitchLimit}
	}
	return Verdict{Action: VerdictContinue}
}
