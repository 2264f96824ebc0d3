package specialcases

import (
	"fmt"
	"time"
)

// Outcome tags what happened to one case.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeSkipped
	OutcomeBackupFailed
	OutcomeActionFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "APPLIED"
	case OutcomeSkipped:
		return "SKIPPED"
	case OutcomeBackupFailed:
		return "BACKUP_FAILED"
	case OutcomeActionFailed:
		return "ACTION_FAILED"
	default:
		return "UNKNOWN"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	for _, c := range []Outcome{OutcomeApplied, OutcomeSkipped, OutcomeBackupFailed, OutcomeActionFailed} {
		if c.String() == string(b) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("specialcases: unknown outcome %q", b)
}

type Result struct {
	Case     string        `json:"case"`
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration_ns"`
}

type Report struct {
	Results []Result `json:"results"`
}

// Count returns how many cases ended with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Failed returns the results that ended in a backup or action failure.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeBackupFailed || res.Outcome == OutcomeActionFailed {
			out = append(out, res)
		}
	}
	return out
}

// Applied returns the names of the cases that ran to completion.
func (r Report) Applied() []string {
	var out []string
	for _, res := range r.Results {
		if res.Outcome == OutcomeApplied {
			out = append(out, res.Case)
		}
	}
	return out
}
