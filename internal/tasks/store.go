package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/elKINTARO/todo-bot/internal/db"
)

// Store is the durable CRUD surface for tasks. Every user-facing call is
// scoped to (owner, id); a task owned by someone else behaves as missing.
type Store interface {
	Create(ctx context.Context, owner int64, text string, deadline *time.Time, reminderOffsetMinutes int) (Task, error)

	// Get returns ErrNotFound when the task doesn't exist for owner.
	Get(ctx context.Context, owner, id int64) (Task, error)

	// ListPending returns owner's pending tasks, oldest first.
	ListPending(ctx context.Context, owner int64) ([]Task, error)

	// ListPendingWithDeadline returns every pending task that has a
	// deadline, across all users.
	ListPendingWithDeadline(ctx context.Context) ([]Task, error)

	// Complete and Delete return the number of affected rows.
	// Completing an already done task affects 0 rows.
	Complete(ctx context.Context, owner, id int64) (int64, error)
	Delete(ctx context.Context, owner, id int64) (int64, error)

	// UpdateText and UpdateDeadline report false when no pending task matched.
	UpdateText(ctx context.Context, owner, id int64, text string) (bool, error)
	UpdateDeadline(ctx context.Context, owner, id int64, deadline *time.Time) (bool, error)

	// Edit applies several changes at once: either all of them or, when no
	// pending task matched, none.
	Edit(ctx context.Context, owner, id int64, c Changes) (bool, error)

	MarkReminderSent(ctx context.Context, id int64) error
}

// SQLStore implements Store on postgres or sqlite.
type SQLStore struct {
	DB  *db.DB
	Now func() time.Time
}

func NewSQLStore(d *db.DB) *SQLStore {
	return &SQLStore{DB: d, Now: time.Now}
}

const taskColumns = `id, user_id, task_text, deadline, created_at, status, reminder_sent, reminder_offset_minutes`

func (s *SQLStore) Create(ctx context.Context, owner int64, text string, deadline *time.Time, reminderOffsetMinutes int) (Task, error) {
	text, err := NormalizeText(text)
	if err != nil {
		return Task{}, err
	}
	if reminderOffsetMinutes <= 0 {
		reminderOffsetMinutes = DefaultReminderOffsetMinutes
	}

	created := s.Now().UTC().Truncate(time.Second)

	var id int64
	err = s.DB.QueryRow(ctx, `
		INSERT INTO tasks (user_id, task_text, deadline, created_at, status, reminder_sent, reminder_offset_minutes)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		RETURNING id
	`, owner, text, nullTimestamp(deadline), FormatTimestamp(created), string(StatusPending), reminderOffsetMinutes).Scan(&id)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	t := Task{
		ID:                    id,
		UserID:                owner,
		Text:                  text,
		Status:                StatusPending,
		CreatedAt:             created,
		ReminderOffsetMinutes: reminderOffsetMinutes,
	}
	if deadline != nil {
		d := deadline.UTC().Truncate(time.Second)
		t.Deadline = &d
	}
	return t, nil
}

func (s *SQLStore) Get(ctx context.Context, owner, id int64) (Task, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id = ? AND user_id = ?
	`, id, owner)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

func (s *SQLStore) ListPending(ctx context.Context, owner int64) ([]Task, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE user_id = ? AND status = 'pending'
		ORDER BY created_at ASC, id ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return collect(rows)
}

func (s *SQLStore) ListPendingWithDeadline(ctx context.Context) ([]Task, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = 'pending' AND deadline IS NOT NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending with deadline: %w", err)
	}
	return collect(rows)
}

func (s *SQLStore) Complete(ctx context.Context, owner, id int64) (int64, error) {
	res, err := s.DB.Exec(ctx, `
		UPDATE tasks
		SET status = 'done'
		WHERE id = ? AND user_id = ? AND status = 'pending'
	`, id, owner)
	if err != nil {
		return 0, fmt.Errorf("complete task %d: %w", id, err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Delete(ctx context.Context, owner, id int64) (int64, error) {
	res, err := s.DB.Exec(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return 0, fmt.Errorf("delete task %d: %w", id, err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) UpdateText(ctx context.Context, owner, id int64, text string) (bool, error) {
	text, err := NormalizeText(text)
	if err != nil {
		return false, err
	}

	res, err := s.DB.Exec(ctx, `
		UPDATE tasks
		SET task_text = ?
		WHERE id = ? AND user_id = ? AND status = 'pending'
	`, text, id, owner)
	if err != nil {
		return false, fmt.Errorf("update text of task %d: %w", id, err)
	}
	return affectedOne(res)
}

func (s *SQLStore) UpdateDeadline(ctx context.Context, owner, id int64, deadline *time.Time) (bool, error) {
	res, err := s.DB.Exec(ctx, `
		UPDATE tasks
		SET deadline = ?
		WHERE id = ? AND user_id = ? AND status = 'pending'
	`, nullTimestamp(deadline), id, owner)
	if err != nil {
		return false, fmt.Errorf("update deadline of task %d: %w", id, err)
	}
	return affectedOne(res)
}

func (s *SQLStore) Edit(ctx context.Context, owner, id int64, c Changes) (bool, error) {
	var (
		sets []string
		args []any
	)
	if c.Text != nil {
		text, err := NormalizeText(*c.Text)
		if err != nil {
			return false, err
		}
		sets = append(sets, "task_text = ?")
		args = append(args, text)
	}
	if c.SetDeadline {
		sets = append(sets, "deadline = ?")
		args = append(args, nullTimestamp(c.Deadline))
	}
	if len(sets) == 0 {
		t, err := s.Get(ctx, owner, id)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return t.Status == StatusPending, nil
	}

	args = append(args, id, owner)
	res, err := s.DB.Exec(ctx, `
		UPDATE tasks
		SET `+strings.Join(sets, ", ")+`
		WHERE id = ? AND user_id = ? AND status = 'pending'
	`, args...)
	if err != nil {
		return false, fmt.Errorf("edit task %d: %w", id, err)
	}
	return affectedOne(res)
}

func (s *SQLStore) MarkReminderSent(ctx context.Context, id int64) error {
	_, err := s.DB.Exec(ctx, `UPDATE tasks SET reminder_sent = 1 WHERE id = ? AND reminder_sent = 0`, id)
	if err != nil {
		return fmt.Errorf("mark reminder sent for task %d: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (Task, error) {
	var (
		t        Task
		deadline sql.NullString
		created  string
		status   string
	)
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Text,
		&deadline,
		&created,
		&status,
		&t.ReminderSent,
		&t.ReminderOffsetMinutes,
	); err != nil {
		return Task{}, err
	}

	t.Status = Status(status)
	if c, err := ParseTimestamp(created); err != nil {
		log.Printf("[WARN] task_id=%d malformed created_at %q: %v", t.ID, created, err)
	} else {
		t.CreatedAt = c
	}
	if deadline.Valid {
		d, err := ParseTimestamp(deadline.String)
		if err != nil {
			t.DeadlineErr = err
		} else {
			t.Deadline = &d
		}
	}
	return t, nil
}

func collect(rows *sql.Rows) ([]Task, error) {
	defer rows.Close()

	var result []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTimestamp(*t), Valid: true}
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
