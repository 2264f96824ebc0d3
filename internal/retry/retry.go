// Package retry classifies failed package-manager queries and retries the
// transient ones with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"
)

// ErrorKind classifies an error for retry decisions.
type ErrorKind int

const (
	Retriable    ErrorKind = iota // Transient, worth retrying
	NonRetriable                  // Permanent, fail immediately
	Unknown                       // Unclassified, treated as retriable
)

func (k ErrorKind) String() string {
	switch k {
	case Retriable:
		return "RETRIABLE"
	case NonRetriable:
		return "NON_RETRIABLE"
	default:
		return "UNKNOWN"
	}
}

// nonRetriableKeywords in stderr indicate permanent failures.
var nonRetriableKeywords = []string{
	"permission denied",
	"no such file",
	"not a directory",
	"invalid",
}

// retriableKeywords in stderr indicate another rpm or yum process holds the
// database.
var retriableKeywords = []string{
	"lock",
	"temporarily unavailable",
	"resource busy",
	"timed out",
	"try again",
}

// Classify decides whether a failed command is worth running again, from the
// error, the process exit code and its stderr.
func Classify(err error, exitCode int, stderr string) ErrorKind {
	// A cancelled run must not keep querying.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NonRetriable
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return NonRetriable
	}

	lower := strings.ToLower(stderr)

	// High exit codes (2+) are usage errors or fatal.
	if exitCode >= 2 {
		return NonRetriable
	}

	// Check stderr for non-retriable keywords first (higher priority).
	for _, kw := range nonRetriableKeywords {
		if strings.Contains(lower, kw) {
			return NonRetriable
		}
	}
	for _, kw := range retriableKeywords {
		if strings.Contains(lower, kw) {
			return Retriable
		}
	}
	return Unknown
}

// Policy is an exponential backoff schedule.
type Policy struct {
	MaxAttempts int
	InitDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
	}
}

// delay returns the wait after the given zero-based attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.InitDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Execute calls fn until it succeeds, reports a NonRetriable error, the
// attempts run out or ctx ends. A zero MaxAttempts means a single attempt.
func Execute[T any](ctx context.Context, p Policy, fn func() (T, error, ErrorKind)) (T, error) {
	attempts := max(p.MaxAttempts, 1)
	var (
		zero    T
		lastErr error
	)
	for i := 0; i < attempts; i++ {
		v, err, kind := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if kind == NonRetriable {
			return zero, err
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(p.delay(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("retry: %w (last error: %v)", ctx.Err(), lastErr)
		case <-t.C:
		}
	}
	return zero, fmt.Errorf("retry: after %d attempts: %w", attempts, lastErr)
}
