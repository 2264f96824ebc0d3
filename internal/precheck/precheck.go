// Package precheck runs the inhibitor checks of a conversion. Any failed
// check stops the run before a single file is touched.
package precheck

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lyndonlyu/distroconv/internal/config"
	"github.com/lyndonlyu/distroconv/internal/filelock"
)

// Check is the interface for environment validation checks.
type Check interface {
	Name() string
	Run() CheckResult
}

// CheckResult holds the outcome of a single check.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// RunResult holds the aggregate outcome of all checks.
type RunResult struct {
	AllPassed bool          `json:"all_passed"`
	Results   []CheckResult `json:"results"`
	Duration  string        `json:"duration"`
}

// Failed returns the results of the checks that did not pass.
func (r RunResult) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Results {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Runner manages and executes a collection of checks.
type Runner struct {
	mu     sync.RWMutex
	checks []Check
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Add appends a check to the runner (thread-safe).
func (r *Runner) Add(c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, c)
}

// Run executes all checks sequentially, times execution, and returns RunResult.
func (r *Runner) Run() RunResult {
	r.mu.RLock()
	checks := make([]Check, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	start := time.Now()
	var results []CheckResult
	allPassed := true
	for _, c := range checks {
		result := c.Run()
		results = append(results, result)
		if !result.Passed {
			allPassed = false
		}
	}
	return RunResult{
		AllPassed: allPassed,
		Results:   results,
		Duration:  time.Since(start).String(),
	}
}

// Checks returns the names of all registered checks.
func (r *Runner) Checks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.checks))
	for i, c := range r.checks {
		names[i] = c.Name()
	}
	return names
}

// DefaultRunner creates a runner with the checks a conversion must pass
// before anything on the host is changed.
func DefaultRunner(cfg *config.Config) *Runner {
	preserve := make([]string, len(cfg.Preserve))
	for i, p := range cfg.Preserve {
		preserve[i] = cfg.Path(p)
	}

	r := NewRunner()
	r.Add(SystemReleaseCheck{Path: cfg.Path("/etc/system-release")})
	r.Add(RootCheck{Skip: cfg.SkipRootCheck})
	r.Add(BinaryCheck{Binary: "rpm"})
	r.Add(RollbackCompletenessCheck{Preserve: preserve, BackupDir: cfg.BackupDir()})
	r.Add(LockCheck{Path: cfg.LockPath()})
	return r
}

// ---------- Built-in checks ----------

// SystemReleaseCheck validates that the release file naming the OS exists.
type SystemReleaseCheck struct {
	Path string
}

func (c SystemReleaseCheck) Name() string { return "system-release" }
func (c SystemReleaseCheck) Run() CheckResult {
	if _, err := os.Stat(c.Path); err != nil {
		return CheckResult{Name: c.Name(), Passed: false,
			Message: "Unable to find the /etc/system-release file containing the OS name and version"}
	}
	return CheckResult{Name: c.Name(), Passed: true, Message: "OK"}
}

// RootCheck validates that the process runs with euid 0.
type RootCheck struct {
	Skip bool
	// Geteuid defaults to unix.Geteuid.
	Geteuid func() int
}

func (c RootCheck) Name() string { return "root" }
func (c RootCheck) Run() CheckResult {
	if c.Skip {
		return CheckResult{Name: c.Name(), Passed: true, Message: "skipped by configuration"}
	}
	euid := unix.Geteuid
	if c.Geteuid != nil {
		euid = c.Geteuid
	}
	if id := euid(); id != 0 {
		return CheckResult{Name: c.Name(), Passed: false,
			Message: fmt.Sprintf("the conversion must run as root (euid %d)", id)}
	}
	return CheckResult{Name: c.Name(), Passed: true, Message: "OK"}
}

// IncompleteRollbackEnv lets an operator proceed when some changes could not
// be reverted.
const IncompleteRollbackEnv = "DISTROCONV_UNSUPPORTED_INCOMPLETE_ROLLBACK"

// RollbackCompletenessCheck validates that every file the run will preserve
// can be backed up: each existing file is readable and the backup directory
// can be created.
type RollbackCompletenessCheck struct {
	Preserve  []string
	BackupDir string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

func (c RollbackCompletenessCheck) Name() string { return "rollback-completeness" }
func (c RollbackCompletenessCheck) Run() CheckResult {
	var problems []string
	if err := os.MkdirAll(c.BackupDir, 0o700); err != nil {
		problems = append(problems, fmt.Sprintf("backup directory %s: %v", c.BackupDir, err))
	}
	for _, p := range c.Preserve {
		f, err := os.Open(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		f.Close()
	}
	if len(problems) == 0 {
		return CheckResult{Name: c.Name(), Passed: true, Message: "OK"}
	}

	getenv := os.Getenv
	if c.Getenv != nil {
		getenv = c.Getenv
	}
	detail := strings.Join(problems, "; ")
	if getenv(IncompleteRollbackEnv) != "" {
		return CheckResult{Name: c.Name(), Passed: true,
			Message: fmt.Sprintf("rollback will be incomplete (%s); continuing because %s is set", detail, IncompleteRollbackEnv)}
	}
	return CheckResult{Name: c.Name(), Passed: false,
		Message: fmt.Sprintf("rollback would be incomplete (%s). To ignore this and continue without a complete rollback, set the environment variable '%s'", detail, IncompleteRollbackEnv)}
}

// LockCheck validates that no other run holds the host lock.
type LockCheck struct {
	Path string
}

func (c LockCheck) Name() string { return "run-lock" }
func (c LockCheck) Run() CheckResult {
	if err := filelock.Probe(c.Path); err != nil {
		return CheckResult{Name: c.Name(), Passed: false, Message: err.Error()}
	}
	return CheckResult{Name: c.Name(), Passed: true, Message: "OK"}
}

// BinaryCheck validates that an executable binary is available in PATH.
type BinaryCheck struct {
	Binary string
}

func (c BinaryCheck) Name() string { return "binary:" + c.Binary }
func (c BinaryCheck) Run() CheckResult {
	path, err := exec.LookPath(c.Binary)
	if err != nil {
		return CheckResult{Name: c.Name(), Passed: false, Message: fmt.Sprintf("%s not found in PATH", c.Binary)}
	}
	return CheckResult{Name: c.Name(), Passed: true, Message: fmt.Sprintf("found at %s", path)}
}

// CustomCheck wraps an arbitrary function as a check.
type CustomCheck struct {
	CheckName string
	Fn        func() CheckResult
}

func (c CustomCheck) Name() string     { return c.CheckName }
func (c CustomCheck) Run() CheckResult { return c.Fn() }
