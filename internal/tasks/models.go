package tasks

import "time"

// Status is the lifecycle state of a task. It only ever moves pending -> done.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

const DefaultReminderOffsetMinutes = 30

type Task struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Text      string     `json:"text"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`

	ReminderSent          bool `json:"reminder_sent"`
	ReminderOffsetMinutes int  `json:"reminder_offset_minutes"`

	// DeadlineErr is set when the stored deadline could not be parsed.
	// Deadline is nil in that case.
	DeadlineErr error `json:"-"`
}

// ReminderOffset returns how long before the deadline the reminder fires.
func (t Task) ReminderOffset() time.Duration {
	m := t.ReminderOffsetMinutes
	if m <= 0 {
		m = DefaultReminderOffsetMinutes
	}
	return time.Duration(m) * time.Minute
}

// Changes is a partial edit of a pending task. A nil Text leaves the text
// alone; SetDeadline with a nil Deadline removes the deadline.
type Changes struct {
	Text        *string
	SetDeadline bool
	Deadline    *time.Time
}

func (c Changes) IsZero() bool {
	return c.Text == nil && !c.SetDeadline
}
