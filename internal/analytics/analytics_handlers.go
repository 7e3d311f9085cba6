package analytics

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/elKINTARO/todo-bot/internal/auth"
)

// StatsHandler reports the caller's event counts, GET /api/stats?days=7.
func StatsHandler(rec *Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		days := 7
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 365 {
				http.Error(w, "days must be between 1 and 365", http.StatusBadRequest)
				return
			}
			days = n
		}

		since := rec.Now().Add(-time.Duration(days) * 24 * time.Hour)
		counts, err := rec.Counts(r.Context(), uid, since)
		if err != nil {
			log.Printf("[ERROR] stats user_id=%d: %v", uid, err)
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"days":   days,
			"events": counts,
		})
	}
}
