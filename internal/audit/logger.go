// Package audit keeps a tamper-evident trail of every ledger event: each
// JSONL record carries the hash of the one before it.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// One file per day, YYYY-MM-DD.jsonl. Anything else in the directory (drift
// snapshots, editor leftovers) is not part of the chain.
var dayFileRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.jsonl$`)

// errStop ends a walk early without an error.
var errStop = errors.New("stop")

// Entry is one event: a skip, backup, mutation, restore, phase change.
type Entry struct {
	RunID    string
	Action   string
	Resource string
	Outcome  string
	Error    string
}

type Record struct {
	Timestamp string `json:"timestamp"`
	ActionID  string `json:"action_id"`
	RunID     string `json:"run_id"`
	Action    string `json:"action"`
	Resource  string `json:"resource,omitempty"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
	Hash      string `json:"hash,omitempty"`
}

// Sum is the record's hash over every field except Hash itself.
func (r Record) Sum() string {
	r.Hash = ""
	data, _ := json.Marshal(r)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

type Logger struct {
	mu       sync.Mutex
	dir      string
	lastHash string
}

// NewLogger opens the trail in dir and continues the chain from its last
// record.
func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: create %s: %w", dir, err)
	}
	l := &Logger{dir: dir}
	// A damaged trail still accepts new records; Verify reports the damage.
	_ = l.walk(func(r Record) error {
		l.lastHash = r.Hash
		return nil
	})
	return l, nil
}

func (l *Logger) Dir() string { return l.dir }

// Log appends entry and fsyncs it before returning.
func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	rec := Record{
		Timestamp: now.UTC().Format(time.RFC3339),
		ActionID:  uuid.NewString(),
		RunID:     entry.RunID,
		Action:    entry.Action,
		Resource:  entry.Resource,
		Outcome:   entry.Outcome,
		Error:     entry.Error,
		PrevHash:  l.lastHash,
	}
	rec.Hash = rec.Sum()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: encode: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(l.dir, now.Format("2006-01-02")+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	l.lastHash = rec.Hash
	return nil
}

// Recent returns up to n records, newest first.
func (l *Logger) Recent(n int) ([]Record, error) {
	var all []Record
	if err := l.walk(func(r Record) error {
		all = append(all, r)
		return nil
	}); err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	slices.Reverse(all)
	return all, nil
}

// ForRun returns every record of runID in the order it was written.
func (l *Logger) ForRun(runID string) ([]Record, error) {
	var out []Record
	err := l.walk(func(r Record) error {
		if r.RunID == runID {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Verify walks the whole chain. It returns false and the index of the first
// broken record when a record was altered or removed.
func (l *Logger) Verify() (bool, int, error) {
	var prev string
	index, broken := 0, -1
	err := l.walk(func(r Record) error {
		if r.Sum() != r.Hash || r.PrevHash != prev {
			broken = index
			return errStop
		}
		prev = r.Hash
		index++
		return nil
	})
	if err != nil {
		return false, -1, err
	}
	return broken < 0, broken, nil
}

// walk feeds every record to fn in write order: day files ascending, lines
// in file order. Returning errStop from fn ends the walk cleanly.
func (l *Logger) walk(fn func(Record) error) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("audit: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !dayFileRe.MatchString(e.Name()) {
			continue
		}
		if err := walkFile(filepath.Join(l.dir, e.Name()), fn); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func walkFile(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return fmt.Errorf("audit: %s line %d: %w", filepath.Base(path), line, err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return sc.Err()
}
