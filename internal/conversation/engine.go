// Package conversation drives the multi-turn dialogues for creating and
// editing tasks. Each user has at most one session; the engine only talks to
// the task store at the terminal step of a flow.
package conversation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/elKINTARO/todo-bot/internal/chat"
	"github.com/elKINTARO/todo-bot/internal/tasks"
)

// DeadlineParser resolves free text into an absolute time.
type DeadlineParser interface {
	Parse(text string, now time.Time) (time.Time, bool)
}

// EventLogger records product events. Implementations must not block the
// conversation on failure.
type EventLogger interface {
	Log(ctx context.Context, userID int64, name string, props map[string]any)
}

type Options struct {
	Location              *time.Location
	ReminderOffsetMinutes int
	Now                   func() time.Time
	Events                EventLogger
}

type Engine struct {
	store    tasks.Store
	sessions SessionStore
	parser   DeadlineParser

	loc            *time.Location
	reminderOffset int
	now            func() time.Time
	events         EventLogger
}

// step runs one transition. It mutates the session in place; setting
// s.State to StateIdle ends the conversation.
type step func(e *Engine, ctx context.Context, s *Session, ev chat.Event) chat.Reply

func New(store tasks.Store, sessions SessionStore, parser DeadlineParser, opts Options) *Engine {
	e := &Engine{
		store:          store,
		sessions:       sessions,
		parser:         parser,
		loc:            opts.Location,
		reminderOffset: opts.ReminderOffsetMinutes,
		now:            opts.Now,
		events:         opts.Events,
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.reminderOffset <= 0 {
		e.reminderOffset = tasks.DefaultReminderOffsetMinutes
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Active reports whether userID is in the middle of a flow.
func (e *Engine) Active(userID int64) bool {
	_, ok := e.sessions.Get(userID)
	return ok
}

// State returns the user's current state, StateIdle when there is no session.
func (e *Engine) State(userID int64) State {
	s, ok := e.sessions.Get(userID)
	if !ok {
		return StateIdle
	}
	return s.State
}

// StartCreate begins the creation flow, replacing any flow in progress.
// A non-empty draft skips straight to the deadline question.
func (e *Engine) StartCreate(ctx context.Context, userID int64, draft string) chat.Reply {
	unlock := e.sessions.Lock(userID)
	defer unlock()

	s := Session{UserID: userID, State: StateAwaitingText}
	reply := promptText()

	if draft != "" {
		text, err := tasks.NormalizeText(draft)
		if err != nil {
			reply = textRejected()
		} else {
			s.DraftText = text
			s.State = StateAwaitingDeadline
			reply = promptDeadline(text)
		}
	}

	e.sessions.Put(s)
	return reply
}

// StartEdit begins the editing flow for one of the user's tasks.
func (e *Engine) StartEdit(ctx context.Context, userID, taskID int64) chat.Reply {
	unlock := e.sessions.Lock(userID)
	defer unlock()

	task, err := e.store.Get(ctx, userID, taskID)
	if errors.Is(err, tasks.ErrNotFound) || (err == nil && task.Status != tasks.StatusPending) {
		e.sessions.Delete(userID)
		return taskGone(taskID)
	}
	if err != nil {
		log.Printf("[ERROR] load task for edit user_id=%d task_id=%d: %v", userID, taskID, err)
		return storeFailed()
	}

	e.sessions.Put(Session{UserID: userID, State: StateEditMenu, TargetTaskID: taskID})
	return editMenu(task, e.loc)
}

// Handle feeds one event into the user's session and returns the reply and
// the state the session ended up in.
func (e *Engine) Handle(ctx context.Context, ev chat.Event) (chat.Reply, State) {
	unlock := e.sessions.Lock(ev.UserID)
	defer unlock()

	s, ok := e.sessions.Get(ev.UserID)
	if !ok {
		return chat.Text(msgNoConversation), StateIdle
	}

	from := s.State
	var reply chat.Reply
	if fn, ok := lookup(from, Classify(ev)); ok {
		reply = fn(e, ctx, &s, ev)
	} else {
		reply = e.reprompt(ctx, &s)
	}

	if s.State == StateIdle {
		e.sessions.Delete(s.UserID)
	} else {
		e.sessions.Put(s)
	}
	return reply, s.State
}

func (e *Engine) reprompt(ctx context.Context, s *Session) chat.Reply {
	switch s.State {
	case StateAwaitingText:
		return promptText()
	case StateAwaitingDeadline:
		return promptDeadline(s.DraftText)
	case StateEditMenu:
		task, reply, ok := e.loadTarget(ctx, s)
		if !ok {
			return reply
		}
		return editMenu(task, e.loc)
	case StateEditingText:
		return promptNewText()
	case StateEditingDeadline:
		return promptNewDeadline()
	}
	return chat.Text(msgNoConversation)
}

func (e *Engine) cancel(_ context.Context, s *Session, _ chat.Event) chat.Reply {
	s.State = StateIdle
	return chat.Text(msgCancelled)
}

// creation flow

func (e *Engine) takeDraftText(_ context.Context, s *Session, ev chat.Event) chat.Reply {
	text, err := tasks.NormalizeText(ev.Text)
	if err != nil {
		return textRejected()
	}
	s.DraftText = text
	s.State = StateAwaitingDeadline
	return promptDeadline(text)
}

func (e *Engine) createWithoutDeadline(ctx context.Context, s *Session, _ chat.Event) chat.Reply {
	return e.create(ctx, s, nil)
}

func (e *Engine) createWithDeadline(ctx context.Context, s *Session, ev chat.Event) chat.Reply {
	deadline, problem, ok := e.resolveDeadline(ev.Text)
	if !ok {
		return deadlineRejected(problem, s.State)
	}
	return e.create(ctx, s, &deadline)
}

func (e *Engine) create(ctx context.Context, s *Session, deadline *time.Time) chat.Reply {
	task, err := e.store.Create(ctx, s.UserID, s.DraftText, deadline, e.reminderOffset)
	if err != nil {
		// the session stays put so the user can resend or cancel
		log.Printf("[ERROR] create task user_id=%d: %v", s.UserID, err)
		return storeFailed()
	}

	s.State = StateIdle
	e.logEvent(ctx, s.UserID, tasks.EventTaskCreated, map[string]any{
		"task_id":      task.ID,
		"has_deadline": task.Deadline != nil,
	})
	return created(task, e.loc)
}

// editing flow

func (e *Engine) chooseEditText(ctx context.Context, s *Session, _ chat.Event) chat.Reply {
	if _, reply, ok := e.loadTarget(ctx, s); !ok {
		return reply
	}
	s.State = StateEditingText
	return promptNewText()
}

func (e *Engine) chooseEditDeadline(ctx context.Context, s *Session, _ chat.Event) chat.Reply {
	if _, reply, ok := e.loadTarget(ctx, s); !ok {
		return reply
	}
	s.State = StateEditingDeadline
	return promptNewDeadline()
}

func (e *Engine) commitText(ctx context.Context, s *Session, ev chat.Event) chat.Reply {
	text, err := tasks.NormalizeText(ev.Text)
	if err != nil {
		return textRejected()
	}

	ok, err := e.store.UpdateText(ctx, s.UserID, s.TargetTaskID, text)
	return e.finishEdit(ctx, s, ok, err, "text")
}

func (e *Engine) commitRemoveDeadline(ctx context.Context, s *Session, _ chat.Event) chat.Reply {
	ok, err := e.store.UpdateDeadline(ctx, s.UserID, s.TargetTaskID, nil)
	return e.finishEdit(ctx, s, ok, err, "deadline")
}

func (e *Engine) commitDeadline(ctx context.Context, s *Session, ev chat.Event) chat.Reply {
	deadline, problem, ok := e.resolveDeadline(ev.Text)
	if !ok {
		return deadlineRejected(problem, s.State)
	}

	matched, err := e.store.UpdateDeadline(ctx, s.UserID, s.TargetTaskID, &deadline)
	return e.finishEdit(ctx, s, matched, err, "deadline")
}

func (e *Engine) finishEdit(ctx context.Context, s *Session, ok bool, err error, field string) chat.Reply {
	if err != nil {
		log.Printf("[ERROR] update %s user_id=%d task_id=%d: %v", field, s.UserID, s.TargetTaskID, err)
		return storeFailed()
	}

	id := s.TargetTaskID
	s.State = StateIdle
	if !ok {
		return taskGone(id)
	}

	e.logEvent(ctx, s.UserID, tasks.EventTaskEdited, map[string]any{
		"task_id": id,
		"field":   field,
	})

	task, err := e.store.Get(ctx, s.UserID, id)
	if err != nil {
		return chat.Text(msgUpdated)
	}
	return updated(task, e.loc)
}

// loadTarget re-reads the task being edited. When it is gone the session
// ends; on a store error the session is left as is.
func (e *Engine) loadTarget(ctx context.Context, s *Session) (tasks.Task, chat.Reply, bool) {
	task, err := e.store.Get(ctx, s.UserID, s.TargetTaskID)
	if errors.Is(err, tasks.ErrNotFound) || (err == nil && task.Status != tasks.StatusPending) {
		id := s.TargetTaskID
		s.State = StateIdle
		return tasks.Task{}, taskGone(id), false
	}
	if err != nil {
		log.Printf("[ERROR] load task user_id=%d task_id=%d: %v", s.UserID, s.TargetTaskID, err)
		return tasks.Task{}, storeFailed(), false
	}
	return task, chat.Reply{}, true
}

// resolveDeadline accepts only parseable times strictly in the future. On
// rejection it returns the message explaining why.
func (e *Engine) resolveDeadline(text string) (time.Time, string, bool) {
	now := e.now()

	t, ok := e.parser.Parse(text, now.In(e.loc))
	if !ok {
		return time.Time{}, msgDeadlineUnparsed, false
	}
	if !t.After(now) {
		return time.Time{}, msgDeadlineInPast, false
	}
	return t, "", true
}

func (e *Engine) logEvent(ctx context.Context, userID int64, name string, props map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Log(ctx, userID, name, props)
}
