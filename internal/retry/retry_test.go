package retry

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyContextErrorsStop(t *testing.T) {
	assert.Equal(t, NonRetriable, Classify(context.DeadlineExceeded, 0, ""))
	assert.Equal(t, NonRetriable, Classify(context.Canceled, 0, ""))
}

func TestClassifyMissingBinary(t *testing.T) {
	_, err := exec.LookPath("definitely-not-rpm-here")
	assert.Equal(t, NonRetriable, Classify(err, -1, ""))
}

func TestClassifyRPMLock(t *testing.T) {
	stderr := "error: can't create transaction lock on /var/lib/rpm/.rpm.lock (Resource temporarily unavailable)"
	assert.Equal(t, Retriable, Classify(errors.New("exit status 1"), 1, stderr))
}

func TestClassifyPermissionDenied(t *testing.T) {
	kind := Classify(errors.New("fail"), 1, "error: cannot open Packages index: Permission denied")
	assert.Equal(t, NonRetriable, kind)
}

func TestClassifyHighExitCode(t *testing.T) {
	kind := Classify(errors.New("fail"), 2, "database lock held")
	assert.Equal(t, NonRetriable, kind)
}

func TestClassifyUnknown(t *testing.T) {
	kind := Classify(errors.New("fail"), 1, "some weird error")
	assert.Equal(t, Unknown, kind)
	assert.Equal(t, "UNKNOWN", kind.String())
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.InitDelay)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Equal(t, 5*time.Second, p.MaxDelay)
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}
	calls := 0
	result, err := Execute(context.Background(), p, func() (string, error, ErrorKind) {
		calls++
		return "ok", nil, Retriable
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriableSucceedsOnThird(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitDelay: time.Millisecond, Multiplier: 1.0, MaxDelay: time.Second}
	calls := 0
	result, err := Execute(context.Background(), p, func() (bool, error, ErrorKind) {
		calls++
		if calls < 3 {
			return false, errors.New("transient"), Retriable
		}
		return true, nil, Retriable
	})
	assert.NoError(t, err)
	assert.True(t, result)
	assert.Equal(t, 3, calls)
}

func TestExecuteNonRetriableStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}
	calls := 0
	_, err := Execute(context.Background(), p, func() (string, error, ErrorKind) {
		calls++
		return "", errors.New("permanent"), NonRetriable
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "permanent")
}

func TestExecuteUnknownRetriesLikeRetriable(t *testing.T) {
	p := Policy{MaxAttempts: 2, InitDelay: time.Millisecond, Multiplier: 1.0, MaxDelay: time.Second}
	calls := 0
	mystery := errors.New("mystery")
	_, err := Execute(context.Background(), p, func() (string, error, ErrorKind) {
		calls++
		return "", mystery, Unknown
	})
	assert.ErrorIs(t, err, mystery)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestExecuteZeroPolicyIsSingleAttempt(t *testing.T) {
	calls := 0
	_, err := Execute(context.Background(), Policy{}, func() (int, error, ErrorKind) {
		calls++
		return 0, errors.New("fail"), Retriable
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteRespectsContext(t *testing.T) {
	p := Policy{MaxAttempts: 10, InitDelay: time.Second, Multiplier: 2.0, MaxDelay: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Execute(ctx, p, func() (string, error, ErrorKind) {
		return "", errors.New("fail"), Retriable
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPolicyDelayCalculation(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: 500 * time.Millisecond}
	// attempt 0: 100ms, attempt 1: 200ms, attempt 2: 400ms, attempt 3: 500ms (capped)
	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 400*time.Millisecond, p.delay(2))
	assert.Equal(t, 500*time.Millisecond, p.delay(3))
}
