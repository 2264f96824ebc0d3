// Package health answers "is this host safe to convert, and is anything left
// over from a previous run". Each check yields one ComponentStatus; the
// overall Level depends only on how many critical and important ones failed.
package health

// Component categories.
const (
	Critical  = "critical"
	Important = "important"
	Optional  = "optional"
)

type Level int

const (
	GREEN Level = iota
	YELLOW
	RED
	CRITICAL
)

var levelNames = [...]string{"GREEN", "YELLOW", "RED", "CRITICAL"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// ComponentStatus is the outcome of one check.
type ComponentStatus struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Healthy  bool   `json:"healthy"`
	Detail   string `json:"detail"`
}

type Report struct {
	Level      Level             `json:"level"`
	Components []ComponentStatus `json:"components"`
}

// Unhealthy returns the failed components in evaluation order.
func (r *Report) Unhealthy() []ComponentStatus {
	var out []ComponentStatus
	for _, c := range r.Components {
		if !c.Healthy {
			out = append(out, c)
		}
	}
	return out
}

// Determine maps failures to a Level. One critical failure is RED and two
// are CRITICAL; important failures escalate one step slower. Optional
// components never affect the level.
func Determine(components []ComponentStatus) Level {
	failed := map[string]int{}
	for _, c := range components {
		if !c.Healthy {
			failed[c.Category]++
		}
	}
	crit, imp := failed[Critical], failed[Important]
	switch {
	case crit >= 2:
		return CRITICAL
	case crit == 1, imp >= 2:
		return RED
	case imp == 1:
		return YELLOW
	}
	return GREEN
}

func NewReport(components []ComponentStatus) *Report {
	return &Report{Level: Determine(components), Components: components}
}
