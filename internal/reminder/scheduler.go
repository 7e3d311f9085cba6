// Package reminder periodically scans pending tasks with deadlines and
// notifies their owners once when a deadline approaches or passes.
//
// A task carries a single reminder_sent flag, so it gets exactly one of the
// two notices: the "approaching" one if a scan sees it inside its reminder
// window, otherwise the "overdue" one.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/elKINTARO/todo-bot/internal/chat"
	"github.com/elKINTARO/todo-bot/internal/tasks"
)

// ErrScanInProgress is returned by Scan when another scan hasn't finished.
var ErrScanInProgress = errors.New("reminder scan already in progress")

// Notifier delivers a reminder to a user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

type EventLogger interface {
	Log(ctx context.Context, userID int64, name string, props map[string]any)
}

type Kind int

const (
	KindNone Kind = iota
	KindApproaching
	KindOverdue
)

func (k Kind) String() string {
	switch k {
	case KindApproaching:
		return "approaching"
	case KindOverdue:
		return "overdue"
	default:
		return "none"
	}
}

// Classify decides which notice, if any, a task is due for at now.
func Classify(t tasks.Task, now time.Time) Kind {
	if t.Status != tasks.StatusPending || t.ReminderSent || t.Deadline == nil {
		return KindNone
	}

	left := t.Deadline.Sub(now)
	switch {
	case left > 0 && left <= t.ReminderOffset():
		return KindApproaching
	case left < 0:
		return KindOverdue
	default:
		return KindNone
	}
}

// Result summarizes one scan.
type Result struct {
	RunID       string
	Checked     int
	Approaching int
	Overdue     int
	Malformed   int
	Failed      int
	Abandoned   int // deliveries given up on after MaxAttempts failures
}

func (r Result) Sent() int {
	return r.Approaching + r.Overdue
}

// Stats are cumulative counters since start.
type Stats struct {
	Scans       int
	Skipped     int // scans not started because one was running
	Approaching int
	Overdue     int
	Malformed   int
	Failed      int
	Abandoned   int
	LastScanAt  time.Time
	LastResult  Result
}

type Options struct {
	Interval     time.Duration
	InitialDelay time.Duration

	// ScanTimeout bounds one scan; 0 means no limit.
	ScanTimeout time.Duration

	// MaxAttempts bounds deliveries per task; after that many failures the
	// task is skipped until restart. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	Location *time.Location
	Now      func() time.Time
	Events   EventLogger
}

const DefaultMaxAttempts = 5

type Scheduler struct {
	store    tasks.Store
	notifier Notifier

	interval     time.Duration
	initialDelay time.Duration
	scanTimeout  time.Duration
	loc          *time.Location
	now          func() time.Time
	events       EventLogger
	maxAttempts  int

	running atomic.Bool

	mu       sync.Mutex
	stats    Stats
	failures map[int64]int // task id -> consecutive failed deliveries
}

func New(store tasks.Store, notifier Notifier, opts Options) *Scheduler {
	s := &Scheduler{
		store:        store,
		notifier:     notifier,
		interval:     opts.Interval,
		initialDelay: opts.InitialDelay,
		scanTimeout:  opts.ScanTimeout,
		loc:          opts.Location,
		now:          opts.Now,
		events:       opts.Events,
		maxAttempts:  opts.MaxAttempts,
		failures:     make(map[int64]int),
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run scans after the initial delay and then every interval until ctx is
// cancelled. A scan in flight when ctx is cancelled runs to completion.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("⏰ reminder scheduler started interval=%s initial_delay=%s", s.interval, s.initialDelay)

	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("⏰ reminder scheduler stopped")
			return nil
		case <-timer.C:
		}

		if _, err := s.Scan(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrScanInProgress) {
			log.Printf("[ERROR] reminder scan: %v", err)
		}

		timer.Reset(s.interval)
	}
}

// Scan checks every pending task with a deadline once. Failures are per
// task: a bad deadline or a failed delivery never stops the scan.
func (s *Scheduler) Scan(ctx context.Context) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.stats.Skipped++
		s.mu.Unlock()
		return Result{}, ErrScanInProgress
	}
	defer s.running.Store(false)

	if s.scanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.scanTimeout)
		defer cancel()
	}

	res := Result{RunID: uuid.NewString()}

	list, err := s.store.ListPendingWithDeadline(ctx)
	if err != nil {
		return res, fmt.Errorf("list tasks: %w", err)
	}

	now := s.now()
	seen := make(map[int64]bool, len(list))
	for _, t := range list {
		seen[t.ID] = true
		if t.ReminderSent {
			continue
		}
		if t.DeadlineErr != nil {
			res.Malformed++
			log.Printf("[WARN] run=%s skipping task_id=%d user_id=%d: %v", res.RunID, t.ID, t.UserID, t.DeadlineErr)
			continue
		}
		res.Checked++

		kind := Classify(t, now)
		if kind == KindNone {
			continue
		}
		if s.attempts(t.ID) >= s.maxAttempts {
			res.Abandoned++
			continue
		}
		if s.deliver(ctx, res.RunID, t, kind, now) {
			if kind == KindApproaching {
				res.Approaching++
			} else {
				res.Overdue++
			}
		} else {
			res.Failed++
		}
	}

	s.forget(seen)
	s.record(res, now)
	if res.Sent() > 0 || res.Malformed > 0 || res.Failed > 0 {
		log.Printf("[INFO] run=%s reminders checked=%d approaching=%d overdue=%d malformed=%d failed=%d",
			res.RunID, res.Checked, res.Approaching, res.Overdue, res.Malformed, res.Failed)
	}
	return res, nil
}

// deliver sends the notice and only then flags the task, so a failed send
// is retried on the next scan instead of being lost.
func (s *Scheduler) deliver(ctx context.Context, runID string, t tasks.Task, kind Kind, now time.Time) bool {
	if err := s.notifier.Notify(ctx, t.UserID, Message(t, kind, now, s.loc)); err != nil {
		n := s.fail(t.ID)
		if n >= s.maxAttempts {
			log.Printf("[ERROR] run=%s %s reminder given up after %d attempts task_id=%d user_id=%d: %v", runID, kind, n, t.ID, t.UserID, err)
		} else {
			log.Printf("[WARN] run=%s %s reminder not delivered (attempt %d/%d) task_id=%d user_id=%d: %v", runID, kind, n, s.maxAttempts, t.ID, t.UserID, err)
		}
		return false
	}
	s.forgetTask(t.ID)

	if err := s.store.MarkReminderSent(ctx, t.ID); err != nil {
		// delivered but not flagged: the next scan may send it again
		log.Printf("[ERROR] run=%s flag reminder task_id=%d: %v", runID, t.ID, err)
		return false
	}

	if s.events != nil {
		s.events.Log(ctx, t.UserID, tasks.EventReminderSent, map[string]any{
			"task_id": t.ID,
			"kind":    kind.String(),
		})
	}
	return true
}

func (s *Scheduler) attempts(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[id]
}

func (s *Scheduler) fail(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id]++
	return s.failures[id]
}

func (s *Scheduler) forgetTask(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, id)
}

// forget drops failure counts of tasks that are no longer pending with a
// deadline (completed, deleted or flagged).
func (s *Scheduler) forget(seen map[int64]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.failures {
		if !seen[id] {
			delete(s.failures, id)
		}
	}
}

func (s *Scheduler) record(res Result, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Scans++
	s.stats.Approaching += res.Approaching
	s.stats.Overdue += res.Overdue
	s.stats.Malformed += res.Malformed
	s.stats.Failed += res.Failed
	s.stats.Abandoned += res.Abandoned
	s.stats.LastScanAt = at
	s.stats.LastResult = res
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Message renders the notice text for a task.
func Message(t tasks.Task, kind Kind, now time.Time, loc *time.Location) string {
	due := chat.FormatDeadline(*t.Deadline, loc)
	switch kind {
	case KindApproaching:
		left := t.Deadline.Sub(now).Round(time.Minute)
		return fmt.Sprintf("⏰ Reminder: \"%s\" (#%d) is due at %s, %s left.", t.Text, t.ID, due, humanize(left))
	default:
		return fmt.Sprintf("🔥 Overdue: \"%s\" (#%d) was due at %s. Use /done %d when it's finished.", t.Text, t.ID, due, t.ID)
	}
}

func humanize(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h == 0:
		return fmt.Sprintf("%d min", m)
	case m == 0:
		return fmt.Sprintf("%d h", h)
	default:
		return fmt.Sprintf("%d h %d min", h, m)
	}
}
