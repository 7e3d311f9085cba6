package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/elKINTARO/todo-bot/internal/db"
	"github.com/elKINTARO/todo-bot/internal/tasks"
)

// Recorder appends product events. It never fails the caller: a broken
// insert is logged and dropped.
type Recorder struct {
	DB  *db.DB
	Now func() time.Time
}

func NewRecorder(d *db.DB) *Recorder {
	return &Recorder{DB: d, Now: time.Now}
}

// Log inserts one analytics event.
// Never logs sensitive raw text; caller passes sanitized props.
func (r *Recorder) Log(ctx context.Context, userID int64, name string, props map[string]any) {
	if r == nil || r.DB == nil || name == "" || userID == 0 {
		return
	}

	if props == nil {
		props = map[string]any{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		// if props can't marshal, don't break core flow
		log.Printf("[WARN] analytics %s: %v", name, err)
		return
	}

	_, err = r.DB.Exec(ctx, `
		INSERT INTO analytics_events (event_name, event_time, user_id, properties)
		VALUES (?, ?, ?, ?)
	`, name, tasks.FormatTimestamp(r.Now()), userID, string(b))
	if err != nil {
		log.Printf("[WARN] analytics %s user_id=%d: %v", name, userID, err)
	}
}

// Counts returns how many times each event happened for a user since the
// given time.
func (r *Recorder) Counts(ctx context.Context, userID int64, since time.Time) (map[string]int, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT event_name, COUNT(*)
		FROM analytics_events
		WHERE user_id = ? AND event_time >= ?
		GROUP BY event_name
	`, userID, tasks.FormatTimestamp(since))
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}
