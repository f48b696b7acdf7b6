// Package state holds the persisted aggregate shared by the cycle
// coordinator and the operator commands: tracked event records, the
// reminder ledger and the operational flags.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"uesbot/internal/model"
	"uesbot/internal/quiet"
	"uesbot/internal/reminder"
	"uesbot/internal/store"
)

// Store keys.
const (
	KeyState    = "state"
	KeySnapshot = "snapshot"
)

// ErrCorrupt is returned when persisted state exists but cannot be decoded.
// Callers must not fall back to an empty state: that would re-announce every
// tracked event.
var ErrCorrupt = errors.New("state: persisted state is unreadable")

// State is the single persisted aggregate.
type State struct {
	Events    map[string]model.TrackedEvent `json:"events"`
	Reminders reminder.Ledger               `json:"sent_reminders"`

	SleepUntil *time.Time `json:"sleep_until,omitempty"`
	// WakePending is set when a sleep expired and the "active again" notice
	// has not been delivered yet.
	WakePending bool `json:"wake_pending,omitempty"`
	// Quiet overrides the configured quiet window once the operator set
	// one. Empty bounds disable quiet hours.
	Quiet *QuietHours `json:"quiet,omitempty"`

	LastRun           *time.Time `json:"last_run,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	AlertSent         bool       `json:"alert_sent,omitempty"`

	// IntervalMinutes is the operator-chosen poll interval; zero means the
	// configured default.
	IntervalMinutes int `json:"interval_minutes,omitempty"`
}

// QuietHours is a persisted "HH:MM" pair.
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// New returns an empty state.
func New() *State {
	return &State{
		Events:    map[string]model.TrackedEvent{},
		Reminders: reminder.Ledger{},
	}
}

// Load reads the aggregate from s. A missing key yields an empty state.
func Load(ctx context.Context, s store.Store) (*State, error) {
	data, err := s.Get(ctx, KeyState)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if data == nil {
		return New(), nil
	}

	st := New()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if st.Events == nil {
		st.Events = map[string]model.TrackedEvent{}
	}
	if st.Reminders == nil {
		st.Reminders = reminder.Ledger{}
	}
	return st, nil
}

// Save persists the aggregate as one atomic value.
func Save(ctx context.Context, s store.Store, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.Put(ctx, KeyState, data); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Sleeping reports whether automatic notifications are paused. A past
// SleepUntil is cleared as a side effect, so every reader observes the same
// expiry and later calls are idempotent.
func (st *State) Sleeping(now time.Time) bool {
	if st.SleepUntil == nil {
		return false
	}
	if now.Before(*st.SleepUntil) {
		return true
	}
	st.SleepUntil = nil
	st.WakePending = true
	return false
}

// SleepFor pauses automatic notifications for d and returns the wake time.
func (st *State) SleepFor(now time.Time, d time.Duration) time.Time {
	until := now.Add(d)
	st.SleepUntil = &until
	st.WakePending = false
	return until
}

// CancelSleep clears any pending sleep.
func (st *State) CancelSleep() {
	st.SleepUntil = nil
	st.WakePending = false
}

// SetQuiet validates and stores the quiet window override.
func (st *State) SetQuiet(start, end string) error {
	if _, err := quiet.Parse(start, end); err != nil {
		return err
	}
	st.Quiet = &QuietHours{Start: start, End: end}
	return nil
}

// QuietWindow returns the override when set, otherwise def. An override
// that no longer parses disables quiet hours.
func (st *State) QuietWindow(def quiet.Window) quiet.Window {
	if st.Quiet == nil {
		return def
	}
	w, err := quiet.Parse(st.Quiet.Start, st.Quiet.End)
	if err != nil {
		return quiet.Window{}
	}
	return w
}

// RecordSuccess marks a completed cycle.
func (st *State) RecordSuccess(now time.Time) {
	ts := now
	st.LastRun = &ts
	st.LastError = ""
	st.ConsecutiveErrors = 0
	st.AlertSent = false
}

// RecordFailure marks a failed cycle and returns the streak length.
func (st *State) RecordFailure(err error) int {
	if err != nil {
		st.LastError = err.Error()
	}
	st.ConsecutiveErrors++
	return st.ConsecutiveErrors
}

// LoadSnapshot returns the last successful cycle's events (nil if none).
// The snapshot is advisory; a decode failure is reported but not ErrCorrupt.
func LoadSnapshot(ctx context.Context, s store.Store) ([]model.Event, error) {
	data, err := s.Get(ctx, KeySnapshot)
	if err != nil || data == nil {
		return nil, err
	}
	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return events, nil
}

// SaveSnapshot persists events as the latest snapshot.
func SaveSnapshot(ctx context.Context, s store.Store, events []model.Event) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.Put(ctx, KeySnapshot, data)
}
