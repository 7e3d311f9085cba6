// Package bot routes chat events to the task store and the conversation
// engine, and fans them out over per-user workers.
package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/elKINTARO/todo-bot/internal/auth"
	"github.com/elKINTARO/todo-bot/internal/chat"
	"github.com/elKINTARO/todo-bot/internal/conversation"
	"github.com/elKINTARO/todo-bot/internal/tasks"
)

const helpText = `📋 I keep your to-do list and remind you before deadlines.

/new - add a task (or /new buy milk)
/list - show pending tasks
/done <id> - mark a task done
/delete <id> - delete a task
/edit <id> - change a task's text or deadline
/cancel - stop what you're doing
/token - get a token for the REST API`

const (
	msgNoTasks       = "🎉 No pending tasks."
	msgIdleText      = "Use /new to add a task or /list to see your tasks."
	msgUnknown       = "🤷 Unknown command. See /help."
	msgStoreFailed   = "❌ Something went wrong, try again later."
	msgTokenDisabled = "The REST API is not enabled on this bot."
)

var newTaskButton = chat.Button{Label: "➕ New task", Action: chat.ActionNewTask}

type EventLogger interface {
	Log(ctx context.Context, userID int64, name string, props map[string]any)
}

type Router struct {
	Store    tasks.Store
	Engine   *conversation.Engine
	Events   EventLogger
	Location *time.Location

	// TokenSecret signs /token JWTs; empty disables the command.
	TokenSecret []byte
	TokenTTL    time.Duration
}

// Handle processes one event and returns the replies to send, in order.
func (r *Router) Handle(ctx context.Context, ev chat.Event) []chat.Reply {
	switch ev.Kind {
	case chat.EventCommand:
		return r.command(ctx, ev)
	case chat.EventButton:
		return r.button(ctx, ev)
	default:
		if r.Engine.Active(ev.UserID) {
			reply, _ := r.Engine.Handle(ctx, ev)
			return one(reply)
		}
		return one(chat.Text(msgIdleText).WithRow(newTaskButton))
	}
}

func (r *Router) command(ctx context.Context, ev chat.Event) []chat.Reply {
	uid := ev.UserID

	switch ev.Command {
	case "start", "help":
		return one(chat.Text(helpText).WithRow(newTaskButton))
	case "new":
		return one(r.Engine.StartCreate(ctx, uid, ev.Args))
	case "list":
		return r.list(ctx, uid)
	case "done", "delete", "edit":
		id, err := tasks.ParseID(ev.Args)
		if err != nil {
			return one(chat.Text(fmt.Sprintf("Usage: /%s <task id>, e.g. /%s 3", ev.Command, ev.Command)))
		}
		return r.taskAction(ctx, uid, ev.Command, id)
	case "cancel", "skip", "nodeadline":
		reply, _ := r.Engine.Handle(ctx, ev)
		return one(reply)
	case "token":
		return one(r.token(uid))
	}
	return one(chat.Text(msgUnknown))
}

func (r *Router) button(ctx context.Context, ev chat.Event) []chat.Reply {
	switch ev.Action {
	case chat.ActionNewTask:
		return one(r.Engine.StartCreate(ctx, ev.UserID, ""))
	case chat.ActionDone:
		return r.taskAction(ctx, ev.UserID, "done", ev.TaskID)
	case chat.ActionDelete:
		return r.taskAction(ctx, ev.UserID, "delete", ev.TaskID)
	case chat.ActionEdit:
		return r.taskAction(ctx, ev.UserID, "edit", ev.TaskID)
	}
	reply, _ := r.Engine.Handle(ctx, ev)
	return one(reply)
}

func (r *Router) taskAction(ctx context.Context, uid int64, action string, id int64) []chat.Reply {
	switch action {
	case "edit":
		return one(r.Engine.StartEdit(ctx, uid, id))
	case "done":
		return one(r.complete(ctx, uid, id))
	default:
		return one(r.delete(ctx, uid, id))
	}
}

// Telegram rejects messages over 4096 characters or with more than 100
// inline buttons, so long lists go out as several replies.
const (
	maxListRunes  = 3500
	maxListRows   = 30
	listLineRunes = 300
	listHeader    = "📋 Your tasks:\n"
	listContinued = "📋 More tasks:\n"
)

func (r *Router) list(ctx context.Context, uid int64) []chat.Reply {
	pending, err := r.Store.ListPending(ctx, uid)
	if err != nil {
		log.Printf("[ERROR] list tasks user_id=%d: %v", uid, err)
		return one(chat.Text(msgStoreFailed))
	}
	if len(pending) == 0 {
		return one(chat.Text(msgNoTasks).WithRow(newTaskButton))
	}

	var (
		replies []chat.Reply
		cur     chat.Reply
		b       strings.Builder
		runes   int
		rows    int
	)
	b.WriteString(listHeader)
	runes = utf8.RuneCountInString(listHeader)

	for _, t := range pending {
		line := "\n" + chat.TaskLine(shorten(t, listLineRunes), r.Location)
		n := utf8.RuneCountInString(line)

		if rows > 0 && (rows == maxListRows || runes+n > maxListRunes) {
			cur.Text = b.String()
			replies = append(replies, cur)
			cur = chat.Reply{}
			b.Reset()
			b.WriteString(listContinued)
			runes = utf8.RuneCountInString(listContinued)
			rows = 0
		}

		b.WriteString(line)
		runes += n
		rows++
		cur = cur.WithRow(
			chat.Button{Label: fmt.Sprintf("✅ #%d", t.ID), Action: chat.ActionDone, TaskID: t.ID},
			chat.Button{Label: fmt.Sprintf("✏️ #%d", t.ID), Action: chat.ActionEdit, TaskID: t.ID},
			chat.Button{Label: fmt.Sprintf("🗑 #%d", t.ID), Action: chat.ActionDelete, TaskID: t.ID},
		)
	}
	cur.Text = b.String()
	return append(replies, cur.WithRow(newTaskButton))
}

// shorten cuts a task's text for display in a list.
func shorten(t tasks.Task, max int) tasks.Task {
	if utf8.RuneCountInString(t.Text) <= max {
		return t
	}
	t.Text = string([]rune(t.Text)[:max-1]) + "…"
	return t
}

func (r *Router) complete(ctx context.Context, uid, id int64) chat.Reply {
	n, err := r.Store.Complete(ctx, uid, id)
	if err != nil {
		log.Printf("[ERROR] complete task user_id=%d task_id=%d: %v", uid, id, err)
		return chat.Text(msgStoreFailed)
	}
	if n == 0 {
		task, err := r.Store.Get(ctx, uid, id)
		if err == nil && task.Status == tasks.StatusDone {
			return chat.Text(fmt.Sprintf("Task #%d is already done.", id))
		}
		return notFound(id)
	}

	r.logEvent(ctx, uid, tasks.EventTaskCompleted, map[string]any{"task_id": id})
	return chat.Text(fmt.Sprintf("✅ Task #%d done. Nice work!", id))
}

func (r *Router) delete(ctx context.Context, uid, id int64) chat.Reply {
	n, err := r.Store.Delete(ctx, uid, id)
	if err != nil {
		log.Printf("[ERROR] delete task user_id=%d task_id=%d: %v", uid, id, err)
		return chat.Text(msgStoreFailed)
	}
	if n == 0 {
		return notFound(id)
	}

	r.logEvent(ctx, uid, tasks.EventTaskDeleted, map[string]any{"task_id": id})
	return chat.Text(fmt.Sprintf("🗑 Task #%d deleted.", id))
}

func (r *Router) token(uid int64) chat.Reply {
	if len(r.TokenSecret) == 0 {
		return chat.Text(msgTokenDisabled)
	}
	tok, err := auth.GenerateToken(r.TokenSecret, uid, r.TokenTTL)
	if err != nil {
		log.Printf("[ERROR] issue token user_id=%d: %v", uid, err)
		return chat.Text(msgStoreFailed)
	}
	return chat.Text("🔑 Your API token (keep it secret):\n\n" + tok)
}

func (r *Router) logEvent(ctx context.Context, uid int64, name string, props map[string]any) {
	if r.Events != nil {
		r.Events.Log(ctx, uid, name, props)
	}
}

func notFound(id int64) chat.Reply {
	return chat.Text(fmt.Sprintf("🔍 Task #%d not found.", id))
}

func one(r chat.Reply) []chat.Reply {
	if r.IsZero() {
		return nil
	}
	return []chat.Reply{r}
}
