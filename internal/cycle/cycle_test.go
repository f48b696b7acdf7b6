package cycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uesbot/internal/model"
	"uesbot/internal/portal"
	"uesbot/internal/quiet"
	"uesbot/internal/state"
	"uesbot/internal/store"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakePortal struct {
	mu      sync.Mutex
	events  []model.Event
	details map[string]portal.Detail
	status  map[string]portal.Status
	err     error
	opens   int
}

func (p *fakePortal) Open(context.Context) (portal.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens++
	return &fakeSession{p: p}, nil
}

type fakeSession struct{ p *fakePortal }

func (s *fakeSession) Events(context.Context) ([]model.Event, error) {
	if s.p.err != nil {
		return nil, s.p.err
	}
	return append([]model.Event(nil), s.p.events...), nil
}

func (s *fakeSession) Detail(_ context.Context, url string) (portal.Detail, error) {
	d, ok := s.p.details[url]
	if !ok {
		return portal.Detail{}, errors.New("not found")
	}
	return d, nil
}

func (s *fakeSession) Submission(_ context.Context, url string) (portal.Status, error) {
	st, ok := s.p.status[url]
	if !ok {
		return portal.Status{}, errors.New("not found")
	}
	return st, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	fail func(text string) bool
}

func (n *fakeNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil && n.fail(text) {
		return errors.New("telegram down")
	}
	n.sent = append(n.sent, text)
	return nil
}

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

func (n *fakeNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}

type harness struct {
	c     *Coordinator
	p     *fakePortal
	n     *fakeNotifier
	s     store.Store
	clock time.Time
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		p: &fakePortal{
			details: map[string]portal.Detail{},
			status:  map[string]portal.Status{},
		},
		n:     &fakeNotifier{},
		s:     s,
		clock: t0,
	}
	opts := Options{
		Location: time.UTC,
		Retry:    portal.RetryPolicy{Attempts: 1},
		Now:      func() time.Time { return h.clock },
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.c = New(h.p, s, h.n, opts, nil)
	return h
}

func (h *harness) state(t *testing.T) *state.State {
	t.Helper()
	st, err := state.Load(context.Background(), h.s)
	require.NoError(t, err)
	return st
}

func event(id, due string, in time.Duration) model.Event {
	e := model.Event{
		ID:      id,
		Title:   "Tarea " + id,
		DueText: due,
		URL:     "https://ues.test/calendar/view.php?event=" + id,
	}
	if in != 0 {
		e.Due = t0.Add(in)
	}
	return e
}

func countPrefix(msgs []string, prefix string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

const (
	changesPrefix  = "🆕"
	summaryPrefix  = "📌"
	reminderPrefix = "⏰"
	alertPrefix    = "🚨"
	wakePrefix     = "☀️"
)

func TestScheduledCycleDetectsChangesOnce(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Summary = SummaryChanges })
	ctx := context.Background()
	h.p.events = []model.Event{event("E1", "Tomorrow", 3*24*time.Hour)}

	res, err := h.c.RunScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, "E1", res.Changed[0].ID)

	msgs := h.n.messages()
	assert.Equal(t, 1, countPrefix(msgs, changesPrefix))
	assert.Equal(t, 1, countPrefix(msgs, summaryPrefix))

	st := h.state(t)
	assert.Equal(t, model.TrackedEvent{Title: "Tarea E1", DueText: "Tomorrow", URL: h.p.events[0].URL}, st.Events["E1"])
	require.NotNil(t, st.LastRun)
	assert.True(t, st.LastRun.Equal(t0))

	// Second cycle with identical due text: present in all, absent in changed.
	h.n.reset()
	res, err = h.c.RunScheduled(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
	assert.Len(t, res.All, 1)
	assert.Empty(t, h.n.messages(), "no changes and summary mode 'changes'")

	snap, err := h.c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 1)
}

func TestSummaryEveryScheduledCycleByDefault(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.p.events = []model.Event{event("E1", "Tomorrow", 3*24*time.Hour)}

	_, err := h.c.RunScheduled(ctx)
	require.NoError(t, err)

	h.n.reset()
	res, err := h.c.RunScheduled(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
	msgs := h.n.messages()
	assert.Equal(t, 1, countPrefix(msgs, summaryPrefix))
	assert.Zero(t, countPrefix(msgs, changesPrefix))
}

func TestEnrichment(t *testing.T) {
	h := newHarness(t, nil)
	e := event("E1", "Tomorrow", 3*24*time.Hour)
	sub := "https://ues.test/mod/assign/view.php?id=1"
	h.p.events = []model.Event{e, event("E2", "Luego", 0)}
	h.p.details[e.URL] = portal.Detail{CourseName: "Cálculo", Description: "d", SubmissionURL: sub}
	h.p.status[sub] = portal.Status{Submission: model.SubmissionSubmitted, Text: "Enviado para calificar"}

	res, err := h.c.RunScheduled(context.Background())
	require.NoError(t, err)
	require.Len(t, res.All, 2)

	assert.Equal(t, "Cálculo", res.All[0].CourseName)
	assert.Equal(t, sub, res.All[0].SubmissionURL)
	assert.Equal(t, model.SubmissionSubmitted, res.All[0].Submission)
	assert.Equal(t, model.SubmissionSubmitted, res.Changed[0].Submission, "changed carries enriched events")

	// E2 has no detail page: left partially filled, cycle still succeeds.
	assert.Equal(t, model.SubmissionUnknown, res.All[1].Submission)
}

func TestBusyFailsFast(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.c.acquire(ctx, 0))

	_, err := h.c.RunNow(ctx, 0)
	assert.ErrorIs(t, err, ErrBusy)
	assert.NotErrorIs(t, err, ErrStillBusy)

	_, err = h.c.RunScheduled(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	_, err = h.c.RunNow(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrStillBusy)
	assert.ErrorIs(t, err, ErrBusy)

	assert.Equal(t, 0, h.p.opens, "lock was never double-acquired")
	h.c.release()

	_, err = h.c.RunNow(ctx, 0)
	assert.NoError(t, err)
}

func TestWaitAcquiresAfterRelease(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.c.acquire(ctx, 0))

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.c.release()
	}()
	_, err := h.c.RunNow(ctx, 2*time.Second)
	assert.NoError(t, err)
}

func TestFailureStreakAlertsOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.p.err = &portal.FetchError{Op: "dashboard", Err: errors.New("timeout")}

	for i := 1; i <= 4; i++ {
		_, err := h.c.RunScheduled(ctx)
		var fe *portal.FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, i, h.state(t).ConsecutiveErrors)
	}
	msgs := h.n.messages()
	assert.Equal(t, 1, countPrefix(msgs, alertPrefix))
	assert.Len(t, msgs, 1)
	assert.Contains(t, h.state(t).LastError, "timeout")

	h.p.err = nil
	_, err := h.c.RunScheduled(ctx)
	require.NoError(t, err)
	st := h.state(t)
	assert.Equal(t, 0, st.ConsecutiveErrors)
	assert.Empty(t, st.LastError)
	assert.False(t, st.AlertSent)
}

func TestAlertSuppressedWhileSleepingAndForManual(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.p.err = errors.New("timeout")

	for range 3 {
		_, err := h.c.RunNow(ctx, 0)
		require.Error(t, err)
	}
	assert.Empty(t, h.n.messages(), "manual failures are reported to the caller only")
	assert.Equal(t, 3, h.state(t).ConsecutiveErrors)

	_, err := h.c.Update(ctx, 0, func(st *state.State) error {
		st.SleepFor(t0, time.Hour)
		return nil
	})
	require.NoError(t, err)
	_, err = h.c.RunScheduled(ctx)
	require.Error(t, err)
	assert.Empty(t, h.n.messages())
	assert.False(t, h.state(t).AlertSent)
}

func TestSleepSuppressesDeliveryButUpdatesState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.p.events = []model.Event{event("E1", "Hoy", 5*time.Hour)}

	_, err := h.c.Update(ctx, 0, func(st *state.State) error {
		st.SleepFor(t0, 2*time.Hour)
		return nil
	})
	require.NoError(t, err)

	res, err := h.c.RunScheduled(ctx)
	require.NoError(t, err)
	assert.True(t, res.Suppressed)
	assert.Empty(t, h.n.messages())

	st := h.state(t)
	assert.Contains(t, st.Events, "E1")
	assert.False(t, st.Reminders.Has("E1", "6h"), "suppressed reminders stay pending")
	require.NotNil(t, st.SleepUntil)
}

func TestWakeNoticeAfterSleepExpires(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.p.events = []model.Event{event("E1", "Hoy", 3*24*time.Hour)}

	_, err := h.c.Update(ctx, 0, func(st *state.State) error {
		st.SleepFor(t0, time.Hour)
		return nil
	})
	require.NoError(t, err)

	h.clock = t0.Add(2 * time.Hour)
	_, err = h.c.RunScheduled(ctx)
	require.NoError(t, err)

	msgs := h.n.messages()
	require.NotEmpty(t, msgs)
	assert.True(t, strings.HasPrefix(msgs[0], wakePrefix))
	assert.Nil(t, h.state(t).SleepUntil)

	h.n.reset()
	_, err = h.c.RunScheduled(ctx)
	require.NoError(t, err)
	assert.Zero(t, countPrefix(h.n.messages(), wakePrefix), "wake notice is sent once")
}

func TestWakeNoticeDeferredPastQuietHours(t *testing.T) {
	window, err := quiet.Parse("12:00", "14:00")
	require.NoError(t, err)
	h := newHarness(t, func(o *Options) { o.Quiet = window })
	ctx := context.Background()
	h.p.events = []model.Event{event("E1", "Hoy", 3*24*time.Hour)}

	_, err = h.c.Update(ctx, 0, func(st *state.State) error {
		st.SleepFor(t0, time.Hour)
		return nil
	})
	require.NoError(t, err)

	// Sleep ends inside the quiet window: nothing is delivered yet.
	h.clock = t0.Add(90 * time.Minute)
	res, err := h.c.RunScheduled(ctx)
	require.NoError(t, err)
	assert.True(t, res.Suppressed)
	assert.Empty(t, h.n.messages())
	st := h.state(t)
	assert.Nil(t, st.SleepUntil)
	assert.True(t, st.WakePending)

	h.clock = t0.Add(3 * time.Hour)
	_, err = h.c.RunScheduled(ctx)
	require.NoError(t, err)
	msgs := h.n.messages()
	require.NotEmpty(t, msgs)
	assert.True(t, strings.HasPrefix(msgs[0], wakePrefix))
	assert.False(t, h.state(t).WakePending)

	h.n.reset()
	_, err = h.c.RunScheduled(ctx)
	require.NoError(t, err)
	assert.Zero(t, countPrefix(h.n.messages(), wakePrefix))
}

func TestQuietHoursGateScheduledNotManual(t *testing.T) {
	allDay, err := quiet.Parse("00:00", "00:00")
	require.NoError(t, err)
	h := newHarness(t, func(o *Options) { o.Quiet = allDay })
	ctx := context.Background()
	h.p.events = []model.Event{event("E1", "Hoy", 3*24*time.Hour)}

	res, err := h.c.RunScheduled(ctx)
	require.NoError(t, err)
	assert.True(t, res.Suppressed)
	assert.Empty(t, h.n.messages())

	h.p.events[0].DueText = "Mañana"
	res, err = h.c.RunNow(ctx, 0)
	require.NoError(t, err)
	assert.False(t, res.Suppressed)
	assert.Equal(t, 1, countPrefix(h.n.messages(), changesPrefix))
	assert.Zero(t, countPrefix(h.n.messages(), summaryPrefix), "manual callers render their own view")
}

func TestRemindersRecordedOnlyAfterDelivery(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Summary = SummaryNever })
	ctx := context.Background()
	h.p.events = []model.Event{event("E1", "Hoy", 23*time.Hour)}
	h.n.fail = func(text string) bool { return strings.HasPrefix(text, reminderPrefix) }

	_, err := h.c.RunScheduled(ctx)
	require.ErrorIs(t, err, ErrDelivery, "delivery failures are reported")
	assert.False(t, h.state(t).Reminders.Has("E1", "24h"))
	assert.NotNil(t, h.state(t).LastRun, "the cycle itself succeeded")

	h.n.fail = nil
	h.n.reset()
	_, err = h.c.RunScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, countPrefix(h.n.messages(), reminderPrefix))
	assert.True(t, h.state(t).Reminders.Has("E1", "24h"))

	h.n.reset()
	_, err = h.c.RunScheduled(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.n.messages(), "no reminder until the 6h window is entered")

	h.clock = t0.Add(18 * time.Hour)
	_, err = h.c.RunScheduled(ctx)
	require.NoError(t, err)
	assert.True(t, h.state(t).Reminders.Has("E1", "6h"))
}

func TestCorruptStateAbortsWithoutWriting(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.s.Put(ctx, state.KeyState, []byte("{broken")))

	_, err := h.c.RunScheduled(ctx)
	assert.ErrorIs(t, err, state.ErrCorrupt)
	assert.Equal(t, 0, h.p.opens)

	data, err := h.s.Get(ctx, state.KeyState)
	require.NoError(t, err)
	assert.Equal(t, "{broken", string(data))
}

func TestUpdatePersists(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.c.Update(ctx, 0, func(st *state.State) error {
		st.IntervalMinutes = 15
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 15, h.state(t).IntervalMinutes)

	boom := errors.New("boom")
	_, err = h.c.Update(ctx, 0, func(st *state.State) error {
		st.IntervalMinutes = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 15, h.state(t).IntervalMinutes, "a failed update is not persisted")
}
