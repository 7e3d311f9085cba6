package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elKINTARO/todo-bot/internal/auth"
	"github.com/elKINTARO/todo-bot/internal/chat"
	"github.com/elKINTARO/todo-bot/internal/conversation"
	"github.com/elKINTARO/todo-bot/internal/deadline"
	"github.com/elKINTARO/todo-bot/internal/tasks"
)

const user int64 = 100

var now = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

type events struct {
	mu    sync.Mutex
	names []string
}

func (e *events) Log(_ context.Context, _ int64, name string, _ map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
}

func newRouter(t *testing.T) (*Router, *tasks.MemoryStore, *events) {
	t.Helper()
	store := tasks.NewMemoryStore()
	store.Now = func() time.Time { return now }
	ev := &events{}

	engine := conversation.New(store, conversation.NewMemorySessions(0), deadline.NewParser(time.UTC), conversation.Options{
		Location: time.UTC,
		Now:      func() time.Time { return now },
		Events:   ev,
	})
	return &Router{
		Store:       store,
		Engine:      engine,
		Events:      ev,
		Location:    time.UTC,
		TokenSecret: []byte("router-secret"),
	}, store, ev
}

func single(t *testing.T, replies []chat.Reply) chat.Reply {
	t.Helper()
	require.Len(t, replies, 1)
	return replies[0]
}

func cmd(name, args string) chat.Event {
	return chat.CommandEvent(user, name, args)
}

func TestRouterCreateFlow(t *testing.T) {
	ctx := context.Background()
	r, store, ev := newRouter(t)

	single(t, r.Handle(ctx, cmd("new", "")))
	reply := single(t, r.Handle(ctx, chat.TextEvent(user, "buy milk")))
	assert.Contains(t, reply.Text, "buy milk")

	reply = single(t, r.Handle(ctx, chat.TextEvent(user, "2026-04-11 09:00")))
	assert.Contains(t, reply.Text, "2026-04-11 09:00")

	list, err := store.ListPending(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "buy milk", list[0].Text)
	assert.Equal(t, []string{"task_created"}, ev.names)
}

func TestRouterNewWithArgsAsksForDeadline(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newRouter(t)

	single(t, r.Handle(ctx, cmd("new", "call bob")))
	assert.Equal(t, conversation.StateAwaitingDeadline, r.Engine.State(user))

	single(t, r.Handle(ctx, chat.ButtonEvent(user, chat.ActionSkipDeadline, 0)))
	list, err := store.ListPending(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Deadline)
}

func TestRouterList(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newRouter(t)

	reply := single(t, r.Handle(ctx, cmd("list", "")))
	assert.Contains(t, reply.Text, "No pending tasks")

	a, err := store.Create(ctx, user, "first", nil, 30)
	require.NoError(t, err)
	_, err = store.Create(ctx, user, "second", nil, 30)
	require.NoError(t, err)
	_, err = store.Create(ctx, user+1, "not mine", nil, 30)
	require.NoError(t, err)

	reply = single(t, r.Handle(ctx, cmd("list", "")))
	assert.Contains(t, reply.Text, "first")
	assert.Contains(t, reply.Text, "second")
	assert.NotContains(t, reply.Text, "not mine")
	require.Len(t, reply.Buttons, 3, "a row per task plus new task")
	assert.Equal(t, chat.ActionDone, reply.Buttons[0][0].Action)
	assert.Equal(t, a.ID, reply.Buttons[0][0].TaskID)
}

func TestRouterListSplitsLongLists(t *testing.T) {
	ctx := context.Background()

	countButtons := func(reply chat.Reply) int {
		n := 0
		for _, row := range reply.Buttons {
			n += len(row)
		}
		return n
	}

	cases := []struct {
		name  string
		count int
		text  func(i int) string
	}{
		{"few long tasks", 5, func(i int) string { return strings.Repeat(string(rune('a'+i)), 1000) }},
		{"many long tasks", 25, func(i int) string { return strings.Repeat("x", 1000) }},
		{"many short tasks", 40, func(i int) string { return "task" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, store, _ := newRouter(t)
			want := map[int64]bool{}
			for i := 0; i < tc.count; i++ {
				task, err := store.Create(ctx, user, tc.text(i), nil, 30)
				require.NoError(t, err)
				want[task.ID] = true
			}

			replies := r.Handle(ctx, cmd("list", ""))
			require.NotEmpty(t, replies)

			got := map[int64]bool{}
			for i, reply := range replies {
				assert.LessOrEqual(t, utf8.RuneCountInString(reply.Text), 4096, "reply %d text", i)
				assert.LessOrEqual(t, countButtons(reply), 100, "reply %d buttons", i)
				for _, row := range reply.Buttons {
					if row[0].Action == chat.ActionDone {
						got[row[0].TaskID] = true
					}
				}
			}
			assert.Equal(t, want, got, "every task is listed once")

			last := replies[len(replies)-1]
			assert.Equal(t, chat.ActionNewTask, last.Buttons[len(last.Buttons)-1][0].Action)
		})
	}
}

func TestRouterListShortensLongText(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newRouter(t)

	_, err := store.Create(ctx, user, strings.Repeat("y", 1000), nil, 30)
	require.NoError(t, err)

	reply := single(t, r.Handle(ctx, cmd("list", "")))
	assert.Contains(t, reply.Text, "…")
	assert.NotContains(t, reply.Text, strings.Repeat("y", listLineRunes))
}

func TestRouterDoneAndDelete(t *testing.T) {
	ctx := context.Background()
	r, store, ev := newRouter(t)

	task, err := store.Create(ctx, user, "ship", nil, 30)
	require.NoError(t, err)
	id := task.ID

	reply := single(t, r.Handle(ctx, chat.ButtonEvent(user, chat.ActionDone, id)))
	assert.Contains(t, reply.Text, "done")

	reply = single(t, r.Handle(ctx, cmd("done", "1")))
	assert.Contains(t, reply.Text, "already done")

	reply = single(t, r.Handle(ctx, cmd("delete", "1")))
	assert.Contains(t, reply.Text, "deleted")

	reply = single(t, r.Handle(ctx, cmd("delete", "1")))
	assert.Contains(t, reply.Text, "not found")

	reply = single(t, r.Handle(ctx, cmd("done", "abc")))
	assert.Contains(t, reply.Text, "Usage: /done")

	assert.Equal(t, []string{"task_completed", "task_deleted"}, ev.names)
}

func TestRouterOtherUsersTasksAreNotFound(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newRouter(t)

	task, err := store.Create(ctx, user+1, "theirs", nil, 30)
	require.NoError(t, err)

	for _, name := range []string{"done", "delete", "edit"} {
		reply := single(t, r.Handle(ctx, chat.CommandEvent(user, name, "1")))
		assert.True(t, strings.Contains(reply.Text, "not found") || strings.Contains(reply.Text, "no longer exists"), reply.Text)
	}

	stored, err := store.Get(ctx, user+1, task.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusPending, stored.Status)
}

func TestRouterEditFlow(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newRouter(t)

	task, err := store.Create(ctx, user, "old", nil, 30)
	require.NoError(t, err)

	reply := single(t, r.Handle(ctx, chat.ButtonEvent(user, chat.ActionEdit, task.ID)))
	assert.Contains(t, reply.Text, "old")
	single(t, r.Handle(ctx, chat.ButtonEvent(user, chat.ActionEditText, 0)))
	single(t, r.Handle(ctx, chat.TextEvent(user, "new")))

	stored, err := store.Get(ctx, user, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.Text)
	assert.False(t, r.Engine.Active(user))
}

func TestRouterCancel(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newRouter(t)

	single(t, r.Handle(ctx, cmd("new", "")))
	reply := single(t, r.Handle(ctx, cmd("cancel", "")))
	assert.Contains(t, reply.Text, "Cancelled")
	assert.False(t, r.Engine.Active(user))

	reply = single(t, r.Handle(ctx, cmd("cancel", "")))
	assert.Contains(t, reply.Text, "Nothing in progress")
}

func TestRouterIdleTextAndUnknown(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newRouter(t)

	reply := single(t, r.Handle(ctx, chat.TextEvent(user, "hello?")))
	assert.Contains(t, reply.Text, "/new")

	reply = single(t, r.Handle(ctx, cmd("frobnicate", "")))
	assert.Contains(t, reply.Text, "Unknown command")

	list, err := store.ListPending(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, list, "idle text creates nothing")
}

func TestRouterToken(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newRouter(t)

	reply := single(t, r.Handle(ctx, cmd("token", "")))
	lines := strings.Split(strings.TrimSpace(reply.Text), "\n")
	tok := lines[len(lines)-1]

	uid, err := auth.ParseToken(r.TokenSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, user, uid)

	r.TokenSecret = nil
	reply = single(t, r.Handle(ctx, cmd("token", "")))
	assert.Contains(t, reply.Text, "not enabled")
}
