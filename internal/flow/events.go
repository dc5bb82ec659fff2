package flow

import (
	"errors"
	"math"
	"strings"
)

var (
	// ErrStaleSection is returned for an event naming a section other than
	// the visible one, including any event after the flow finished.
	ErrStaleSection = errors.New("section is not the visible section")
	// ErrEmptySelection is returned for a dropdown event without a value.
	ErrEmptySelection = errors.New("empty dropdown selection")
)

// EventKind identifies a visitor action.
type EventKind string

const (
	// KindAnswer is a click on an answer button.
	KindAnswer EventKind = "answer"
	// KindSelect is a dropdown selection change.
	KindSelect EventKind = "select"
	// KindSkip is a click on the skip control.
	KindSkip EventKind = "skip"
)

// Event is one visitor action on a section. CID and SID are the destination
// the page attached to the control; either may be empty.
type Event struct {
	Kind    EventKind `json:"kind"`
	Section int       `json:"section"`
	Value   string    `json:"value,omitempty"`
	CID     string    `json:"cid,omitempty"`
	SID     string    `json:"sid,omitempty"`
}

// negative reports whether the event declines the campaign.
func (e Event) negative() bool {
	if e.Kind == KindSkip {
		return true
	}
	return e.Kind == KindAnswer && strings.EqualFold(strings.TrimSpace(e.Value), "no")
}

// Signal is a lifecycle notification for the page flow controller.
type Signal string

const (
	SignalNone              Signal = ""
	SignalFlowCompleted     Signal = "flow-completed"
	SignalShowLongForm      Signal = "show-long-form"
	SignalLongFormSubmitted Signal = "long-form-submitted"
)

// Decision records what a transition did with the answer.
type Decision string

const (
	DecisionNone        Decision = ""
	DecisionSkipGroup   Decision = "skip-group"
	DecisionDeferred    Decision = "deferred-long-form"
	DecisionContinue    Decision = "continue-group"
	DecisionBuffered    Decision = "buffered-short-form"
	DecisionDispatched  Decision = "dispatched"
	DecisionUnavailable Decision = "store-error"
)

// Step describes the questionnaire after a transition.
type Step struct {
	Section    int      `json:"section"` // -1 once done
	Done       bool     `json:"done"`
	Total      int      `json:"total"`
	Progress   int      `json:"progress"`
	Motivation string   `json:"motivation"`
	Signal     Signal   `json:"signal,omitempty"`
	Decision   Decision `json:"decision,omitempty"`
}

// progress returns the percentage shown while section idx of total is
// visible. The first section shows 0%.
func progress(idx, total int, done bool) int {
	switch {
	case done || total == 0:
		return 100
	case idx == 0:
		return 0
	default:
		return int(math.Round(float64(idx+1) / float64(total) * 100))
	}
}

// motivation returns the encouragement line for a progress percentage.
func motivation(pct int) string {
	switch {
	case pct < 25:
		return "Beantwoord nu deze vragen 🎯"
	case pct < 50:
		return "Top! Nog maar een paar vragen ⚡️"
	case pct < 75:
		return "Over de helft, even volhouden! 🚀"
	case pct < 100:
		return "Bijna klaar, laatste vragen 🙌"
	default:
		return "Geweldig! Laatste vraag! 🎉"
	}
}

func stepAt(idx, total int) Step {
	pct := progress(idx, total, false)
	return Step{Section: idx, Total: total, Progress: pct, Motivation: motivation(pct)}
}

func stepDone(total int, sig Signal) Step {
	return Step{Section: -1, Done: true, Total: total, Progress: 100, Motivation: motivation(100), Signal: sig}
}
