package conversion

import "fmt"

// Phase is where a run stands. Runs move INITIALIZING → VALIDATING →
// INHIBITED or RUNNING → COMMITTED or ROLLING_BACK → ROLLED_BACK or
// ROLLBACK_PARTIAL.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseValidating
	PhaseInhibited
	PhaseRunning
	PhaseCommitted
	PhaseRollingBack
	PhaseRolledBack
	PhaseRollbackPartial
)

var phaseNames = [...]string{
	PhaseInitializing:    "INITIALIZING",
	PhaseValidating:      "VALIDATING",
	PhaseInhibited:       "INHIBITED",
	PhaseRunning:         "RUNNING",
	PhaseCommitted:       "COMMITTED",
	PhaseRollingBack:     "ROLLING_BACK",
	PhaseRolledBack:      "ROLLED_BACK",
	PhaseRollbackPartial: "ROLLBACK_PARTIAL",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func ParsePhase(s string) (Phase, error) {
	for i, n := range phaseNames {
		if n == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("conversion: unknown phase %q", s)
}

// Final reports whether no further transition follows.
func (p Phase) Final() bool {
	switch p {
	case PhaseInhibited, PhaseCommitted, PhaseRolledBack, PhaseRollbackPartial:
		return true
	}
	return false
}

// RecoverablePhases are the stored phases whose journal may still hold
// resources to restore.
func RecoverablePhases() []string {
	return []string{PhaseRunning.String(), PhaseRollingBack.String(), PhaseRollbackPartial.String()}
}

// Exit codes of the convert and rollback commands.
const (
	ExitCommitted       = 0
	ExitRolledBack      = 1
	ExitInhibited       = 2
	ExitRollbackPartial = 3
)

// ExitCode maps a result to the process exit status. A dry run that rolled
// back cleanly is a success.
func ExitCode(r Result) int {
	switch r.Phase {
	case PhaseCommitted:
		return ExitCommitted
	case PhaseInhibited:
		return ExitInhibited
	case PhaseRolledBack:
		if r.DryRun && r.Err == nil {
			return ExitCommitted
		}
		return ExitRolledBack
	default:
		return ExitRollbackPartial
	}
}
