package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/hako/durafmt"
	"github.com/moby/sys/atomicwriter"
	"go.uber.org/zap"

	"github.com/doridoridoriand/tunnelwatch/internal/state"
)

// DefaultWindow is the debounce window used when none is configured.
const DefaultWindow = 2 * time.Minute

// TaskRecord is the last lifecycle action that completed successfully.
// Timestamp is epoch seconds so the file stays readable by the shell tooling around it.
type TaskRecord struct {
	State       state.DesiredState `json:"state"`
	Timestamp   float64            `json:"timestamp"`
	ClientCount int                `json:"client_count"`
}

// Time converts the epoch-seconds timestamp.
func (r TaskRecord) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// ErrNoRecord is returned by Load when no record has been written yet.
var ErrNoRecord = errors.New("no task record")

// Tracker implements the debounce policy on top of a single TaskRecord file.
// It does no locking: only one tracker may use a given file.
type Tracker struct {
	path   string
	window time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New returns a tracker persisting to path.
func New(path string, window time.Duration, logger *zap.Logger, opts ...Option) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{path: path, window: window, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Window returns the debounce window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// Load reads the persisted record.
func (t *Tracker) Load() (TaskRecord, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TaskRecord{}, ErrNoRecord
		}
		return TaskRecord{}, fmt.Errorf("read task record: %w", err)
	}
	var rec TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return TaskRecord{}, fmt.Errorf("parse task record: %w", err)
	}
	return rec, nil
}

// ShouldTrigger reports whether an action for desired may run now.
// It is false only when the record names the same state and is younger than the window.
// An unreadable record counts as no record.
func (t *Tracker) ShouldTrigger(desired state.DesiredState) bool {
	rec, err := t.Load()
	if err != nil {
		if !errors.Is(err, ErrNoRecord) {
			t.logger.Warn("task record unusable, treating as absent",
				zap.String("path", t.path), zap.Error(err))
		}
		return true
	}
	if rec.State != desired {
		return true
	}

	age := t.now().Sub(rec.Time())
	if age >= t.window {
		return true
	}

	t.logger.Info("task recently triggered, skipping",
		zap.String("state", desired.String()),
		zap.Int("recorded_client_count", rec.ClientCount),
		zap.Duration("age", age),
		zap.String("retry_after", durafmt.Parse((t.window - age).Round(time.Second)).LimitFirstN(2).String()))
	return false
}

// RecordSuccess overwrites the record with desired, stamped now.
func (t *Tracker) RecordSuccess(desired state.DesiredState, clientCount int) error {
	if !desired.Valid() {
		return fmt.Errorf("record task: invalid state %q", desired)
	}
	rec := TaskRecord{
		State:       desired,
		Timestamp:   float64(t.now().UnixNano()) / float64(time.Second),
		ClientCount: clientCount,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode task record: %w", err)
	}
	if err := atomicwriter.WriteFile(t.path, data, 0o644); err != nil {
		return fmt.Errorf("write task record: %w", err)
	}
	return nil
}
