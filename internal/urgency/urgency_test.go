package urgency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"uesbot/internal/model"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func due(d time.Duration, sub model.Submission) model.Event {
	return model.Event{ID: "e", Due: now.Add(d), Submission: sub}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		ev   model.Event
		want Bucket
	}{
		{"undated", model.Event{ID: "u"}, Undated},
		{"undated even when submitted", model.Event{ID: "u", Submission: model.SubmissionSubmitted}, Undated},
		{"urgent 23h", due(23*time.Hour, model.SubmissionPending), Urgent},
		{"sent wins over urgent", due(23*time.Hour, model.SubmissionSubmitted), Sent},
		{"sent wins over overdue", due(-time.Hour, model.SubmissionSubmitted), Sent},
		{"overdue", due(-time.Minute, model.SubmissionPending), Overdue},
		{"due exactly now is overdue", due(0, model.SubmissionUnknown), Overdue},
		{"urgent boundary", due(24*time.Hour, model.SubmissionUnknown), Urgent},
		{"upcoming", due(3*24*time.Hour, model.SubmissionPending), Upcoming},
		{"upcoming boundary", due(UpcomingWindow, model.SubmissionPending), Upcoming},
		{"future", due(UpcomingWindow+time.Second, model.SubmissionPending), Future},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.ev, 24, now))
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	valid := map[Bucket]bool{}
	for _, b := range Order {
		valid[b] = true
	}
	subs := []model.Submission{model.SubmissionUnknown, model.SubmissionPending, model.SubmissionSubmitted}
	for h := -48; h <= 24*10; h += 5 {
		for _, s := range subs {
			b := Classify(due(time.Duration(h)*time.Hour, s), 12, now)
			assert.True(t, valid[b], "hour %d submission %s gave %q", h, s, b)
		}
	}
}

func TestPartition(t *testing.T) {
	events := []model.Event{
		due(time.Hour, model.SubmissionPending),
		{ID: "nodate"},
		due(2*time.Hour, model.SubmissionPending),
	}
	groups := Partition(events, 24, now)
	assert.Len(t, groups[Urgent], 2)
	assert.Len(t, groups[Undated], 1)
	assert.Empty(t, groups[Future])
}
