package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elKINTARO/todo-bot/internal/tasks"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type sent struct {
	UserID int64
	Text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	fail map[int64]bool

	attempts int

	// block, when set, holds every Notify until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func (n *fakeNotifier) Notify(_ context.Context, userID int64, text string) error {
	if n.entered != nil {
		n.entered <- struct{}{}
	}
	if n.block != nil {
		<-n.block
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if n.fail[userID] {
		return errors.New("chat unreachable")
	}
	n.sent = append(n.sent, sent{UserID: userID, Text: text})
	return nil
}

func (n *fakeNotifier) Sent() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.sent...)
}

// malformedStore adds a row whose deadline could not be decoded.
type malformedStore struct {
	*tasks.MemoryStore
}

func (s malformedStore) ListPendingWithDeadline(ctx context.Context) ([]tasks.Task, error) {
	list, err := s.MemoryStore.ListPendingWithDeadline(ctx)
	if err != nil {
		return nil, err
	}
	bad := tasks.Task{
		ID:          999,
		UserID:      5,
		Text:        "broken",
		Status:      tasks.StatusPending,
		DeadlineErr: fmt.Errorf("%w: \"soonish\"", tasks.ErrMalformedDeadline),
	}
	return append([]tasks.Task{bad}, list...), nil
}

type recordedEvent struct {
	UserID int64
	Name   string
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *eventLog) Log(_ context.Context, userID int64, name string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{UserID: userID, Name: name})
}

func newScheduler(t *testing.T, store tasks.Store, n Notifier) (*Scheduler, *time.Time) {
	t.Helper()
	clock := now
	s := New(store, n, Options{
		Interval: time.Minute,
		Location: time.UTC,
		Now:      func() time.Time { return clock },
	})
	return s, &clock
}

func createAt(t *testing.T, store tasks.Store, owner int64, text string, deadline time.Time) tasks.Task {
	t.Helper()
	task, err := store.Create(context.Background(), owner, text, &deadline, 30)
	require.NoError(t, err)
	return task
}

func TestScanSendsApproachingOnce(t *testing.T) {
	ctx := context.Background()
	store := tasks.NewMemoryStore()
	n := &fakeNotifier{}
	s, _ := newScheduler(t, store, n)

	task := createAt(t, store, 1, "call mom", now.Add(20*time.Minute))

	res, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Approaching)
	assert.Equal(t, 0, res.Overdue)
	assert.NotEmpty(t, res.RunID)

	got := n.Sent()
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].UserID)
	assert.Contains(t, got[0].Text, "call mom")
	assert.Contains(t, got[0].Text, "20 min")

	stored, err := store.Get(ctx, 1, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.ReminderSent)

	res, err = s.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Sent())
	assert.Len(t, n.Sent(), 1, "second scan sends nothing")
}

func TestScanSendsOverdueOnce(t *testing.T) {
	ctx := context.Background()
	store := tasks.NewMemoryStore()
	n := &fakeNotifier{}
	s, _ := newScheduler(t, store, n)

	createAt(t, store, 2, "pay rent", now.Add(-2*time.Hour))

	res, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Overdue)

	got := n.Sent()
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0].Text, "🔥 Overdue"), got[0].Text)

	_, err = s.Scan(ctx)
	require.NoError(t, err)
	assert.Len(t, n.Sent(), 1)
}

func TestScanApproachingThenNoOverdue(t *testing.T) {
	ctx := context.Background()
	store := tasks.NewMemoryStore()
	n := &fakeNotifier{}
	s, clock := newScheduler(t, store, n)

	createAt(t, store, 1, "standup", now.Add(10*time.Minute))

	_, err := s.Scan(ctx)
	require.NoError(t, err)

	*clock = now.Add(time.Hour)
	res, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Overdue, "one flag means one notice per task")
	assert.Len(t, n.Sent(), 1)
}

func TestScanIgnoresTasksOutsideWindow(t *testing.T) {
	ctx := context.Background()
	store := tasks.NewMemoryStore()
	n := &fakeNotifier{}
	s, _ := newScheduler(t, store, n)

	_, err := store.Create(ctx, 1, "no deadline", nil, 30)
	require.NoError(t, err)
	far := createAt(t, store, 1, "next week", now.Add(7*24*time.Hour))
	done := createAt(t, store, 1, "finished", now.Add(-time.Hour))
	_, err = store.Complete(ctx, 1, done.ID)
	require.NoError(t, err)

	res, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked, "only the far task has a pending deadline")
	assert.Zero(t, res.Sent())
	assert.Empty(t, n.Sent())

	stored, err := store.Get(ctx, 1, far.ID)
	require.NoError(t, err)
	assert.False(t, stored.ReminderSent)
}

func TestScanRespectsPerTaskOffset(t *testing.T) {
	ctx := context.Background()
	store := tasks.NewMemoryStore()
	n := &fakeNotifier{}
	s, _ := newScheduler(t, store, n)

	d := now.Add(45 * time.Minute)
	_, err := store.Create(ctx, 1, "wide window", &d, 60)
	require.NoError(t, err)
	_, err = store.Create(ctx, 1, "narrow window", &d, 15)
	require.NoError(t, err)

	res, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Approaching)

	got := n.Sent()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text, "wide window")
}

func TestScanDeliveryFailureKeepsFlagUnset(t *testing.T) {
	ctx := context.Background()
	store := tasks.NewMemoryStore()
	n := &fakeNotifier{fail: map[int64]bool{3: true}}
	s, _ := newScheduler(t, store, n)

	broken := createAt(t, store, 3, "unreachable", now.Add(5*time.Minute))
	createAt(t, store, 4, "reachable", now.Add(5*time.Minute))

	res, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Approaching, "one failure does not stop the scan")

	stored, err := store.Get(ctx, 3, broken.ID)
	require.NoError(t, err)
	assert.False(t, stored.ReminderSent)

	n.mu.Lock()
	n.fail = nil
	n.mu.Unlock()

	res, err = s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Approaching, "retried on the next scan")
	assert.Len(t, n.Sent(), 2)
}

func TestScanGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := tasks.NewMemoryStore()
	n := &fakeNotifier{fail: map[int64]bool{3: true}}
	s := New(store, n, Options{
		MaxAttempts: 3,
		Location:    time.UTC,
		Now:         func() time.Time { return now },
	})

	blocked := createAt(t, store, 3, "bot blocked", now.Add(-time.Minute))

	for i := 0; i < 3; i++ {
		res, err := s.Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed, "scan %d", i)
	}
	for i := 0; i < 2; i++ {
		res, err := s.Scan(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Failed)
		assert.Equal(t, 1, res.Abandoned)
	}

	n.mu.Lock()
	assert.Equal(t, 3, n.attempts)
	n.mu.Unlock()
	assert.Equal(t, 2, s.Stats().Abandoned)

	stored, err := store.Get(ctx, 3, blocked.ID)
	require.NoError(t, err)
	assert.False(t, stored.ReminderSent, "given up in memory only")

	// a fresh scheduler, as after a restart, tries again
	n.mu.Lock()
	n.fail = nil
	n.mu.Unlock()
	res, err := New(store, n, Options{Location: time.UTC, Now: func() time.Time { return now }}).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Overdue)
}

func TestScanResetsAttemptsAfterSuccess(t *testing.T) {
	ctx := context.Background()
	store := tasks.NewMemoryStore()
	n := &fakeNotifier{fail: map[int64]bool{3: true}}
	s := New(store, n, Options{
		MaxAttempts: 2,
		Location:    time.UTC,
		Now:         func() time.Time { return now },
	})

	first := createAt(t, store, 3, "flaky", now.Add(-time.Minute))
	_, err := s.Scan(ctx)
	require.NoError(t, err)

	// the task is completed between scans; its count is dropped
	_, err = store.Complete(ctx, 3, first.ID)
	require.NoError(t, err)
	_, err = s.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.attempts(first.ID))

	second := createAt(t, store, 3, "flaky again", now.Add(-time.Minute))
	_, err = s.Scan(ctx)
	require.NoError(t, err)
	n.mu.Lock()
	n.fail = nil
	n.mu.Unlock()
	res, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Overdue)
	assert.Zero(t, s.attempts(second.ID))
}

func TestScanSkipsMalformedDeadline(t *testing.T) {
	ctx := context.Background()
	mem := tasks.NewMemoryStore()
	n := &fakeNotifier{}
	events := &eventLog{}
	clock := now
	s := New(malformedStore{mem}, n, Options{
		Location: time.UTC,
		Now:      func() time.Time { return clock },
		Events:   events,
	})

	createAt(t, mem, 1, "fine", now.Add(-time.Minute))

	res, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 1, res.Overdue)

	got := n.Sent()
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].UserID)

	require.Len(t, events.events, 1)
	assert.Equal(t, tasks.EventReminderSent, events.events[0].Name)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Scans)
	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, res.RunID, stats.LastResult.RunID)
}

func TestScanRejectsOverlap(t *testing.T) {
	store := tasks.NewMemoryStore()
	n := &fakeNotifier{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	s, _ := newScheduler(t, store, n)
	createAt(t, store, 1, "slow", now.Add(time.Minute))

	done := make(chan error, 1)
	go func() {
		_, err := s.Scan(context.Background())
		done <- err
	}()

	<-n.entered
	_, err := s.Scan(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(n.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, s.Stats().Skipped)

	_, err = s.Scan(context.Background())
	assert.NoError(t, err, "guard is released after the scan")
}

func TestRunScansUntilCancelled(t *testing.T) {
	store := tasks.NewMemoryStore()
	n := &fakeNotifier{entered: make(chan struct{}, 1)}
	s := New(store, n, Options{
		Interval: 10 * time.Millisecond,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})
	createAt(t, store, 1, "soon", now.Add(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-n.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("no reminder sent")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.GreaterOrEqual(t, s.Stats().Scans, 1)
}

func TestClassify(t *testing.T) {
	d := func(offset time.Duration) *time.Time {
		v := now.Add(offset)
		return &v
	}
	base := tasks.Task{Status: tasks.StatusPending, ReminderOffsetMinutes: 30}

	cases := []struct {
		name string
		mod  func(*tasks.Task)
		want Kind
	}{
		{"inside window", func(t *tasks.Task) { t.Deadline = d(30 * time.Minute) }, KindApproaching},
		{"outside window", func(t *tasks.Task) { t.Deadline = d(31 * time.Minute) }, KindNone},
		{"exactly now", func(t *tasks.Task) { t.Deadline = d(0) }, KindNone},
		{"past", func(t *tasks.Task) { t.Deadline = d(-time.Second) }, KindOverdue},
		{"no deadline", func(t *tasks.Task) {}, KindNone},
		{"already sent", func(t *tasks.Task) { t.Deadline = d(-time.Hour); t.ReminderSent = true }, KindNone},
		{"done", func(t *tasks.Task) { t.Deadline = d(-time.Hour); t.Status = tasks.StatusDone }, KindNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := base
			tc.mod(&task)
			assert.Equal(t, tc.want, Classify(task, now))
		})
	}
}
