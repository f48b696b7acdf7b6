// Package cycle runs scrape cycles: fetch, diff, enrich, classify, notify
// and persist, one at a time.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"uesbot/internal/changes"
	"uesbot/internal/compose"
	appLog "uesbot/internal/log"
	"uesbot/internal/metrics"
	"uesbot/internal/model"
	"uesbot/internal/portal"
	"uesbot/internal/quiet"
	"uesbot/internal/reminder"
	"uesbot/internal/state"
	"uesbot/internal/store"
)

// DefaultAlertThreshold is the failure streak that triggers an operator alert.
const DefaultAlertThreshold = 3

var (
	// ErrBusy is returned when another cycle (or state update) holds the
	// run lock and the caller did not want to wait.
	ErrBusy = errors.New("cycle: a scrape cycle is already running")
	// ErrStillBusy is returned when the bounded wait for the run lock
	// elapsed. It matches ErrBusy with errors.Is.
	ErrStillBusy = fmt.Errorf("%w: wait timed out", ErrBusy)
	// ErrDelivery marks a cycle whose scrape succeeded and was persisted
	// but whose notifications did not all go out.
	ErrDelivery = errors.New("cycle: delivery failed")
)

// Trigger tells a cycle who started it.
type Trigger string

const (
	// Scheduled cycles honour sleep and quiet hours.
	Scheduled Trigger = "scheduled"
	// Manual cycles were explicitly requested and bypass delivery gating.
	Manual Trigger = "manual"
)

// Summary modes for scheduled cycles.
const (
	SummaryNever   = "never"
	SummaryChanges = "changes"
	SummaryAlways  = "always"
)

// Notifier delivers one message to the operator chat.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Options configures a Coordinator.
type Options struct {
	Location        *time.Location
	Quiet           quiet.Window
	UrgentHours     int
	MaxChangeItems  int
	MaxSummaryLines int
	ChunkLen        int
	AlertThreshold  int
	NotifyUnchanged bool
	// Summary selects when a scheduled cycle sends the sectioned summary.
	Summary string
	Retry   portal.RetryPolicy

	// Now overrides the clock.
	Now func() time.Time
}

// Result describes a completed cycle.
type Result struct {
	ID        string
	Trigger   Trigger
	All       []model.Event
	Changed   []model.Event
	Reminders []reminder.Reminder
	// Suppressed is set when sleep or quiet hours held back delivery.
	Suppressed bool
	Started    time.Time
	Finished   time.Time
}

// Coordinator owns the run lock. All cycles and operator state updates go
// through it, so the persisted state has a single writer at a time.
type Coordinator struct {
	portal   portal.Portal
	store    store.Store
	notifier Notifier
	metrics  *metrics.Metrics
	opts     Options
	sem      *semaphore.Weighted
}

// New returns a Coordinator. m may be nil.
func New(p portal.Portal, s store.Store, n Notifier, opts Options, m *metrics.Metrics) *Coordinator {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.UrgentHours <= 0 {
		opts.UrgentHours = 24
	}
	if opts.MaxChangeItems <= 0 {
		opts.MaxChangeItems = compose.DefaultMaxChangeItems
	}
	if opts.MaxSummaryLines <= 0 {
		opts.MaxSummaryLines = compose.DefaultMaxSummaryLines
	}
	if opts.ChunkLen <= 0 {
		opts.ChunkLen = compose.DefaultChunkLen
	}
	if opts.AlertThreshold <= 0 {
		opts.AlertThreshold = DefaultAlertThreshold
	}
	if opts.Summary == "" {
		opts.Summary = SummaryAlways
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		portal:   p,
		store:    s,
		notifier: n,
		metrics:  m,
		opts:     opts,
		sem:      semaphore.NewWeighted(1),
	}
}

// Options returns the effective options.
func (c *Coordinator) Options() Options {
	return c.opts
}

// acquire takes the run lock. wait <= 0 fails immediately on contention.
func (c *Coordinator) acquire(ctx context.Context, wait time.Duration) error {
	if c.sem.TryAcquire(1) {
		return nil
	}
	if wait <= 0 {
		return ErrBusy
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := c.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrStillBusy
	}
	return nil
}

func (c *Coordinator) release() {
	c.sem.Release(1)
}

// RunScheduled runs a periodic cycle. It never waits for the run lock.
func (c *Coordinator) RunScheduled(ctx context.Context) (Result, error) {
	return c.run(ctx, Scheduled, 0)
}

// RunNow runs an operator-requested cycle, waiting up to wait for a cycle
// in progress to finish.
func (c *Coordinator) RunNow(ctx context.Context, wait time.Duration) (Result, error) {
	return c.run(ctx, Manual, wait)
}

// Update applies fn to the persisted state under the run lock.
func (c *Coordinator) Update(ctx context.Context, wait time.Duration, fn func(*state.State) error) (*state.State, error) {
	if err := c.acquire(ctx, wait); err != nil {
		return nil, err
	}
	defer c.release()

	st, err := state.Load(ctx, c.store)
	if err != nil {
		return nil, err
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	if err := state.Save(ctx, c.store, st); err != nil {
		return nil, err
	}
	return st, nil
}

// State loads the persisted state without taking the lock. Lazy sleep
// expiry applies to the returned copy but is not written back.
func (c *Coordinator) State(ctx context.Context) (*state.State, error) {
	return state.Load(ctx, c.store)
}

// Snapshot returns the enriched events of the last successful cycle.
func (c *Coordinator) Snapshot(ctx context.Context) ([]model.Event, error) {
	return state.LoadSnapshot(ctx, c.store)
}

func (c *Coordinator) run(ctx context.Context, trigger Trigger, wait time.Duration) (Result, error) {
	res := Result{ID: uuid.NewString(), Trigger: trigger, Started: c.opts.Now()}

	if err := c.acquire(ctx, wait); err != nil {
		if errors.Is(err, ErrBusy) {
			appLog.Info("cycle skipped, run lock held", "trigger", trigger, "err", err)
			c.metrics.Cycle(string(trigger), metrics.OutcomeBusy, 0)
		}
		return res, err
	}
	defer c.release()

	log := func(msg string, kv ...any) {
		appLog.Info(msg, append([]any{"cycle", res.ID, "trigger", trigger}, kv...)...)
	}
	log("cycle started")

	st, err := state.Load(ctx, c.store)
	if err != nil {
		// Nothing is written: an unreadable state must be repaired by hand.
		appLog.Error("cycle aborted, state unreadable", err, "cycle", res.ID)
		c.metrics.Cycle(string(trigger), metrics.OutcomeFailure, c.opts.Now().Sub(res.Started))
		return res, err
	}

	now := c.opts.Now()
	sleeping := st.Sleeping(now)
	quietNow := st.QuietWindow(c.opts.Quiet).Contains(now.In(c.opts.Location))
	gated := trigger == Scheduled && (sleeping || quietNow)

	var deliveryErrs []error
	// A wake that happened during quiet hours is announced by the first
	// scheduled cycle after them.
	if st.WakePending && trigger == Scheduled && !quietNow {
		if err := c.deliver(ctx, "wake", compose.WakeNotice()); err != nil {
			deliveryErrs = append(deliveryErrs, err)
		} else {
			st.WakePending = false
		}
	}

	all, changed, fetchErr := c.fetch(ctx, st)
	if fetchErr != nil {
		return res, c.fail(ctx, st, trigger, res, fetchErr, sleeping || quietNow, errors.Join(deliveryErrs...))
	}
	res.All, res.Changed = all, changed
	res.Reminders = reminder.Pending(all, st.Reminders, now)

	if gated {
		res.Suppressed = true
		log("delivery suppressed", "sleeping", sleeping, "quiet", quietNow,
			"changed", len(changed), "reminders", len(res.Reminders))
	} else {
		deliveryErrs = append(deliveryErrs, c.notify(ctx, trigger, st, res, now)...)
	}

	st.RecordSuccess(now)
	res.Finished = c.opts.Now()
	if err := state.Save(ctx, c.store, st); err != nil {
		appLog.Error("save state failed", err, "cycle", res.ID)
		return res, err
	}
	if err := state.SaveSnapshot(ctx, c.store, all); err != nil {
		appLog.Warn("save snapshot failed", "cycle", res.ID, "err", err)
	}

	c.metrics.Cycle(string(trigger), metrics.OutcomeSuccess, res.Finished.Sub(res.Started))
	c.metrics.Success(now, len(all), len(changed))
	log("cycle finished", "events", len(all), "changed", len(changed),
		"reminders", len(res.Reminders), "took", res.Finished.Sub(res.Started).Round(time.Millisecond))

	if err := errors.Join(deliveryErrs...); err != nil {
		return res, fmt.Errorf("cycle %s: %w: %w", res.ID, ErrDelivery, err)
	}
	return res, nil
}

// fetch reads the dashboard, diffs it against the tracked records (which
// are updated in st) and enriches every event.
func (c *Coordinator) fetch(ctx context.Context, st *state.State) (all, changed []model.Event, err error) {
	sess, err := c.portal.Open(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer sess.Close()
	sess = portal.Retrying(sess, c.opts.Retry)

	events, err := sess.Events(ctx)
	if err != nil {
		return nil, nil, err
	}

	known := make(map[string]model.TrackedEvent, len(st.Events))
	for id, rec := range st.Events {
		known[id] = rec
	}
	all, changed = changes.Detect(events, known)

	enrich(ctx, sess, all)

	ids := changes.IDs(changed)
	changed = changed[:0]
	for _, e := range all {
		if _, ok := ids[e.ID]; ok {
			changed = append(changed, e)
		}
	}

	st.Events = known
	return all, changed, nil
}

// enrich fills course, description and submission state in place.
// Failures leave the event partially filled.
func enrich(ctx context.Context, sess portal.Session, events []model.Event) {
	for i := range events {
		e := &events[i]
		if e.URL == "" {
			continue
		}
		d, err := sess.Detail(ctx, e.URL)
		if err != nil {
			appLog.Warn("event page unavailable", "event", e.ID, "url", e.URL, "err", err)
			continue
		}
		if d.CourseName != "" {
			e.CourseName = d.CourseName
		}
		e.Description = d.Description
		e.SubmissionURL = d.SubmissionURL

		if e.SubmissionURL == "" {
			continue
		}
		s, err := sess.Submission(ctx, e.SubmissionURL)
		if err != nil {
			appLog.Warn("assignment page unavailable", "event", e.ID, "url", e.SubmissionURL, "err", err)
			continue
		}
		e.Submission = s.Submission
		e.SubmissionStatus = s.Text
	}
}

// notify sends the cycle's messages in order: change batch, reminders and,
// for scheduled cycles, the summary. A reminder is recorded in the ledger
// only once it was delivered.
func (c *Coordinator) notify(ctx context.Context, trigger Trigger, st *state.State, res Result, now time.Time) []error {
	var errs []error

	if len(res.Changed) > 0 || (trigger == Scheduled && c.opts.NotifyUnchanged) {
		errs = append(errs, c.deliver(ctx, "changes", compose.ChangeBatch(res.Changed, c.opts.MaxChangeItems)))
	}

	for _, r := range res.Reminders {
		err := c.deliver(ctx, "reminder", compose.Reminder(r.Event, r.Label, now))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		st.Reminders.Record(r.Event.ID, r.Label)
	}

	if trigger == Scheduled && c.wantSummary(len(res.Changed)) {
		errs = append(errs, c.deliver(ctx, "summary", compose.Summary(res.All, now, compose.SummaryOptions{
			Location:    c.opts.Location,
			UrgentHours: c.opts.UrgentHours,
			MaxLines:    c.opts.MaxSummaryLines,
		})))
	}
	return errs
}

func (c *Coordinator) wantSummary(changed int) bool {
	switch c.opts.Summary {
	case SummaryAlways:
		return true
	case SummaryChanges:
		return changed > 0
	default:
		return false
	}
}

// fail records a failed cycle and raises the operator alert once per
// failure streak.
func (c *Coordinator) fail(ctx context.Context, st *state.State, trigger Trigger, res Result, cause error, gated bool, deliveryErr error) error {
	count := st.RecordFailure(cause)
	appLog.Error("cycle failed", cause, "cycle", res.ID, "trigger", trigger, "consecutive", count)
	c.metrics.Cycle(string(trigger), metrics.OutcomeFailure, c.opts.Now().Sub(res.Started))
	c.metrics.Failures(count)

	if trigger == Scheduled && count >= c.opts.AlertThreshold && !gated && !st.AlertSent {
		if err := c.deliver(ctx, "alert", compose.Alert(count, st.LastError)); err != nil {
			deliveryErr = errors.Join(deliveryErr, err)
		} else {
			st.AlertSent = true
		}
	}

	if err := state.Save(ctx, c.store, st); err != nil {
		appLog.Error("save state failed", err, "cycle", res.ID)
		return errors.Join(cause, err)
	}
	return errors.Join(cause, deliveryErr)
}

// deliver chunks text and sends the chunks in order, stopping at the first
// failure.
func (c *Coordinator) deliver(ctx context.Context, kind, text string) error {
	for _, part := range compose.Chunk(text, c.opts.ChunkLen) {
		err := c.notifier.Send(ctx, part)
		c.metrics.Notification(kind, err)
		if err != nil {
			appLog.Error("notification failed", err, "kind", kind)
			return fmt.Errorf("send %s: %w", kind, err)
		}
	}
	return nil
}

// Deliver sends an arbitrary composed message through the notifier.
func (c *Coordinator) Deliver(ctx context.Context, kind, text string) error {
	return c.deliver(ctx, kind, text)
}
