package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"
)

// EventLogger records product events for API mutations.
type EventLogger interface {
	Log(ctx context.Context, userID int64, name string, props map[string]any)
}

// UserIDFunc extracts the authenticated user from a request context.
type UserIDFunc func(ctx context.Context) (int64, bool)

// HTTPHandler exposes a user's tasks over REST. The same Store backs the
// bot, so both surfaces see the same data.
type HTTPHandler struct {
	Store                 Store
	UserID                UserIDFunc
	Events                EventLogger
	Now                   func() time.Time
	ReminderOffsetMinutes int
}

// Register mounts the task routes on mux, each wrapped with auth.
func (h *HTTPHandler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /api/tasks", wrap(h.List))
	mux.HandleFunc("POST /api/tasks", wrap(h.Create))
	mux.HandleFunc("POST /api/tasks/{id}/done", wrap(h.Complete))
	mux.HandleFunc("DELETE /api/tasks/{id}", wrap(h.Delete))
	mux.HandleFunc("PATCH /api/tasks/{id}", wrap(h.Update))
}

func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.user(w, r)
	if !ok {
		return
	}

	list, err := h.Store.ListPending(r.Context(), uid)
	if err != nil {
		log.Printf("[ERROR] list tasks user_id=%d: %v", uid, err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []Task{}
	}

	writeJSON(w, http.StatusOK, list)
}

func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.user(w, r)
	if !ok {
		return
	}

	var body struct {
		Text     string     `json:"text"`
		Deadline *time.Time `json:"deadline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	text, err := NormalizeAPIText(body.Text)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Deadline != nil && !body.Deadline.After(h.now()) {
		http.Error(w, "deadline must be in the future", http.StatusBadRequest)
		return
	}

	task, err := h.Store.Create(r.Context(), uid, text, body.Deadline, h.ReminderOffsetMinutes)
	if err != nil {
		log.Printf("[ERROR] create task user_id=%d: %v", uid, err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	h.logEvent(r.Context(), uid, EventTaskCreated, map[string]any{
		"task_id":      task.ID,
		"has_deadline": task.Deadline != nil,
		"source":       "api",
	})
	writeJSON(w, http.StatusCreated, task)
}

func (h *HTTPHandler) Complete(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.target(w, r)
	if !ok {
		return
	}

	n, err := h.Store.Complete(r.Context(), uid, id)
	if err != nil {
		log.Printf("[ERROR] complete task user_id=%d task_id=%d: %v", uid, id, err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if n == 0 {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	h.logEvent(r.Context(), uid, EventTaskCompleted, map[string]any{"task_id": id, "source": "api"})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.target(w, r)
	if !ok {
		return
	}

	n, err := h.Store.Delete(r.Context(), uid, id)
	if err != nil {
		log.Printf("[ERROR] delete task user_id=%d task_id=%d: %v", uid, id, err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if n == 0 {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	h.logEvent(r.Context(), uid, EventTaskDeleted, map[string]any{"task_id": id, "source": "api"})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Update edits a pending task. "text" replaces the text; "deadline" is an
// RFC 3339 time or null to remove it. Absent fields are left alone.
func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.target(w, r)
	if !ok {
		return
	}

	var body struct {
		Text     *string         `json:"text"`
		Deadline json.RawMessage `json:"deadline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.Text == nil && body.Deadline == nil {
		http.Error(w, "nothing to update", http.StatusBadRequest)
		return
	}

	var changes Changes
	if body.Text != nil {
		text, err := NormalizeAPIText(*body.Text)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		changes.Text = &text
	}

	if body.Deadline != nil {
		changes.SetDeadline = true
		if !bytes.Equal(body.Deadline, []byte("null")) {
			var d time.Time
			if err := json.Unmarshal(body.Deadline, &d); err != nil {
				http.Error(w, "deadline must be an RFC 3339 time or null", http.StatusBadRequest)
				return
			}
			if !d.After(h.now()) {
				http.Error(w, "deadline must be in the future", http.StatusBadRequest)
				return
			}
			changes.Deadline = &d
		}
	}

	ctx := r.Context()
	matched, err := h.Store.Edit(ctx, uid, id, changes)
	if err != nil {
		log.Printf("[ERROR] update task user_id=%d task_id=%d: %v", uid, id, err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if !matched {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if changes.Text != nil {
		h.logEvent(ctx, uid, EventTaskEdited, map[string]any{"task_id": id, "field": "text", "source": "api"})
	}
	if changes.SetDeadline {
		h.logEvent(ctx, uid, EventTaskEdited, map[string]any{"task_id": id, "field": "deadline", "source": "api"})
	}

	task, err := h.Store.Get(ctx, uid, id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[ERROR] reload task user_id=%d task_id=%d: %v", uid, id, err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *HTTPHandler) user(w http.ResponseWriter, r *http.Request) (int64, bool) {
	uid, ok := h.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return 0, false
	}
	return uid, true
}

func (h *HTTPHandler) target(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	uid, ok := h.user(w, r)
	if !ok {
		return 0, 0, false
	}
	id, err := ParseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return 0, 0, false
	}
	return uid, id, true
}

func (h *HTTPHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *HTTPHandler) logEvent(ctx context.Context, userID int64, name string, props map[string]any) {
	if h.Events != nil {
		h.Events.Log(ctx, userID, name, props)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] encode response: %v", err)
	}
}
