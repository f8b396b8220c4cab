package models

import "time"

// EventType is the kind of progress notification emitted by a run.
type EventType int

const (
	EventItemStarted EventType = iota
	EventItemSkipped
	EventItemCompleted
	EventItemFailed
	EventRunFinished
)

func (t EventType) String() string {
	switch t {
	case EventItemStarted:
		return "item_started"
	case EventItemSkipped:
		return "item_skipped"
	case EventItemCompleted:
		return "item_completed"
	case EventItemFailed:
		return "item_failed"
	case EventRunFinished:
		return "run_finished"
	default:
		return "unknown"
	}
}

// Event is one notification in the run's event stream. Index is 1-based
// within the manifest; Summary is only set on EventRunFinished.
type Event struct {
	Type    EventType
	Item    ContentIdentifier
	Index   int
	Total   int
	Path    string
	Err     error
	Summary *Summary
}

type Failure struct {
	Item   ContentIdentifier `json:"item"`
	Reason string            `json:"reason"`
}

// Summary reports the outcome of a run. Err is set when the run ended
// early because of a fatal error or cancellation.
type Summary struct {
	RunID      string        `json:"run_id"`
	Target     string        `json:"target"`
	Discovered int           `json:"discovered"`
	Archived   int           `json:"archived"`
	Skipped    int           `json:"skipped"`
	Failures   []Failure     `json:"failures"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

func (s *Summary) Failed() int {
	return len(s.Failures)
}
