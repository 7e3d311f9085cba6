package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/elKINTARO/todo-bot/internal/tasks"
)

// DisplayLayout is how deadlines are shown to users.
const DisplayLayout = "2006-01-02 15:04"

func FormatDeadline(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DisplayLayout)
}

// TaskLine renders a task as a single list line.
func TaskLine(t tasks.Task, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s", t.ID, t.Text)
	if t.Deadline != nil {
		fmt.Fprintf(&b, " (⏰ %s)", FormatDeadline(*t.Deadline, loc))
	}
	return b.String()
}
