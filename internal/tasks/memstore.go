package tasks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore holds tasks in memory, protected by a mutex. Tasks live in a
// map for O(1) lookup and a separate slice keeps insertion order for stable
// iteration. State is lost when the process exits.
//
// Returned tasks are copies; callers never see the store's own records.
type MemoryStore struct {
	mu     sync.Mutex
	tasks  map[int64]*Task
	order  []int64
	nextID int64

	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[int64]*Task),
		Now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, owner int64, text string, deadline *time.Time, reminderOffsetMinutes int) (Task, error) {
	text, err := NormalizeText(text)
	if err != nil {
		return Task{}, err
	}
	if reminderOffsetMinutes <= 0 {
		reminderOffsetMinutes = DefaultReminderOffsetMinutes
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t := &Task{
		ID:                    s.nextID,
		UserID:                owner,
		Text:                  text,
		Deadline:              normalizeDeadline(deadline),
		Status:                StatusPending,
		CreatedAt:             s.Now().UTC().Truncate(time.Second),
		ReminderOffsetMinutes: reminderOffsetMinutes,
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	return copyTask(t), nil
}

func (s *MemoryStore) Get(_ context.Context, owner, id int64) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.UserID != owner {
		return Task{}, ErrNotFound
	}
	return copyTask(t), nil
}

func (s *MemoryStore) ListPending(_ context.Context, owner int64) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Task
	for _, id := range s.order {
		t, ok := s.tasks[id]
		if !ok || t.UserID != owner || t.Status != StatusPending {
			continue
		}
		result = append(result, copyTask(t))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListPendingWithDeadline(_ context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Task
	for _, id := range s.order {
		t, ok := s.tasks[id]
		if !ok || t.Status != StatusPending || t.Deadline == nil {
			continue
		}
		result = append(result, copyTask(t))
	}
	return result, nil
}

// Complete only transitions from pending, so a done task stays done.
func (s *MemoryStore) Complete(_ context.Context, owner, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.UserID != owner || t.Status != StatusPending {
		return 0, nil
	}
	t.Status = StatusDone
	return 1, nil
}

func (s *MemoryStore) Delete(_ context.Context, owner, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.UserID != owner {
		return 0, nil
	}
	delete(s.tasks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return 1, nil
}

func (s *MemoryStore) UpdateText(_ context.Context, owner, id int64, text string) (bool, error) {
	text, err := NormalizeText(text)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pendingLocked(owner, id)
	if !ok {
		return false, nil
	}
	t.Text = text
	return true, nil
}

func (s *MemoryStore) UpdateDeadline(_ context.Context, owner, id int64, deadline *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pendingLocked(owner, id)
	if !ok {
		return false, nil
	}
	t.Deadline = normalizeDeadline(deadline)
	return true, nil
}

func (s *MemoryStore) Edit(_ context.Context, owner, id int64, c Changes) (bool, error) {
	var text string
	if c.Text != nil {
		t, err := NormalizeText(*c.Text)
		if err != nil {
			return false, err
		}
		text = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pendingLocked(owner, id)
	if !ok {
		return false, nil
	}
	if c.Text != nil {
		t.Text = text
	}
	if c.SetDeadline {
		t.Deadline = normalizeDeadline(c.Deadline)
	}
	return true, nil
}

func (s *MemoryStore) MarkReminderSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[id]; ok {
		t.ReminderSent = true
	}
	return nil
}

func (s *MemoryStore) pendingLocked(owner, id int64) (*Task, bool) {
	t, ok := s.tasks[id]
	if !ok || t.UserID != owner || t.Status != StatusPending {
		return nil, false
	}
	return t, true
}

// normalizeDeadline matches what the SQL store can round-trip: UTC, whole seconds.
func normalizeDeadline(d *time.Time) *time.Time {
	if d == nil {
		return nil
	}
	v := d.UTC().Truncate(time.Second)
	return &v
}

func copyTask(t *Task) Task {
	c := *t
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	return c
}
