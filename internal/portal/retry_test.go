package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uesbot/internal/model"
)

var fastPolicy = RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}

type flakySession struct {
	failures int
	err      error
	calls    int
}

func (f *flakySession) fail() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakySession) Events(context.Context) ([]model.Event, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return []model.Event{{ID: "1"}}, nil
}

func (f *flakySession) Detail(context.Context, string) (Detail, error) {
	if err := f.fail(); err != nil {
		return Detail{}, err
	}
	return Detail{CourseName: "C"}, nil
}

func (f *flakySession) Submission(context.Context, string) (Status, error) {
	if err := f.fail(); err != nil {
		return Status{}, err
	}
	return Status{Submission: model.SubmissionSubmitted}, nil
}

func (f *flakySession) Close() error { return nil }

func TestRetryingGivesUpAfterAttempts(t *testing.T) {
	inner := &flakySession{failures: 10, err: errors.New("timeout")}
	s := Retrying(inner, fastPolicy)

	_, err := s.Events(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "dashboard", fe.Op)
}

func TestRetryingSucceedsOnSecondTry(t *testing.T) {
	inner := &flakySession{failures: 1, err: errors.New("timeout")}
	s := Retrying(inner, fastPolicy)

	d, err := s.Detail(context.Background(), "https://x/event")
	require.NoError(t, err)
	assert.Equal(t, "C", d.CourseName)
	assert.Equal(t, 2, inner.calls)
}

func TestRetryingKeepsFetchError(t *testing.T) {
	orig := &FetchError{Op: "assignment", URL: "u", Err: errors.New("boom")}
	inner := &flakySession{failures: 10, err: orig}
	s := Retrying(inner, fastPolicy)

	_, err := s.Submission(context.Background(), "u")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Same(t, orig, fe)
}

func TestRetryingDoesNotRetryMissingCredentials(t *testing.T) {
	inner := &flakySession{failures: 10, err: ErrCredentials}
	s := Retrying(inner, fastPolicy)

	_, err := s.Events(context.Background())
	assert.ErrorIs(t, err, ErrCredentials)
	assert.Equal(t, 1, inner.calls)
}
