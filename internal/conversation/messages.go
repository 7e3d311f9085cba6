package conversation

import (
	"fmt"
	"time"

	"github.com/elKINTARO/todo-bot/internal/chat"
	"github.com/elKINTARO/todo-bot/internal/tasks"
)

const (
	msgNoConversation   = "Nothing in progress. Use /new to add a task or /list to see your tasks."
	msgCancelled        = "❎ Cancelled."
	msgAskText          = "📝 What do you need to do? Send me the task text."
	msgAskNewText       = "✏️ Send the new text for the task."
	msgAskNewDeadline   = "⏰ Send the new deadline, e.g. \"tomorrow 18:00\" or \"2026-12-31 09:00\"."
	msgEmptyText        = "The task text can't be empty. Try again."
	msgDeadlineUnparsed = "🤔 I couldn't understand that date. Try something like \"tomorrow 18:00\" or \"2026-12-31 09:00\"."
	msgDeadlineInPast   = "⌛ That time is already in the past. Send a deadline in the future."
	msgStoreFailed      = "❌ Something went wrong while saving. Send it again or /cancel."
	msgUpdated          = "✅ Task updated."
)

var (
	cancelButton         = chat.Button{Label: "Cancel", Action: chat.ActionCancel}
	skipButton           = chat.Button{Label: "No deadline", Action: chat.ActionSkipDeadline}
	removeDeadlineButton = chat.Button{Label: "Remove deadline", Action: chat.ActionRemoveDeadline}
)

func promptText() chat.Reply {
	return chat.Text(msgAskText).WithRow(cancelButton)
}

func promptDeadline(draft string) chat.Reply {
	text := fmt.Sprintf("Task: %s\n\n⏰ When is it due? Send a deadline like \"tomorrow 18:00\", or skip it.", draft)
	return chat.Text(text).WithRow(skipButton, cancelButton)
}

func promptNewText() chat.Reply {
	return chat.Text(msgAskNewText).WithRow(cancelButton)
}

func promptNewDeadline() chat.Reply {
	return chat.Text(msgAskNewDeadline).WithRow(removeDeadlineButton, cancelButton)
}

func editMenu(task tasks.Task, loc *time.Location) chat.Reply {
	text := fmt.Sprintf("Editing %s\n\nWhat do you want to change?", chat.TaskLine(task, loc))
	return chat.Text(text).
		WithRow(
			chat.Button{Label: "Text", Action: chat.ActionEditText},
			chat.Button{Label: "Deadline", Action: chat.ActionEditDeadline},
		).
		WithRow(cancelButton)
}

func textRejected() chat.Reply {
	return chat.Text(msgEmptyText).WithRow(cancelButton)
}

// deadlineRejected re-asks for a deadline with the buttons of the state
// the user stays in.
func deadlineRejected(problem string, state State) chat.Reply {
	r := chat.Text(problem)
	if state == StateEditingDeadline {
		return r.WithRow(removeDeadlineButton, cancelButton)
	}
	return r.WithRow(skipButton, cancelButton)
}

func storeFailed() chat.Reply {
	return chat.Text(msgStoreFailed).WithRow(cancelButton)
}

func taskGone(id int64) chat.Reply {
	return chat.Text(fmt.Sprintf("🔍 Task #%d no longer exists.", id))
}

func created(task tasks.Task, loc *time.Location) chat.Reply {
	return chat.Text("✅ Task added:\n\n" + chat.TaskLine(task, loc))
}

func updated(task tasks.Task, loc *time.Location) chat.Reply {
	return chat.Text("✅ Task updated:\n\n" + chat.TaskLine(task, loc))
}
