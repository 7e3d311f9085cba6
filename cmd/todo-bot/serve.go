package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/elKINTARO/todo-bot/internal/analytics"
	"github.com/elKINTARO/todo-bot/internal/auth"
	"github.com/elKINTARO/todo-bot/internal/bot"
	"github.com/elKINTARO/todo-bot/internal/config"
	"github.com/elKINTARO/todo-bot/internal/conversation"
	"github.com/elKINTARO/todo-bot/internal/db"
	"github.com/elKINTARO/todo-bot/internal/deadline"
	"github.com/elKINTARO/todo-bot/internal/reminder"
	"github.com/elKINTARO/todo-bot/internal/tasks"
	"github.com/elKINTARO/todo-bot/internal/telegram"
)

const shutdownTimeout = 15 * time.Second

type eventLogger interface {
	Log(ctx context.Context, userID int64, name string, props map[string]any)
}

// storage is what serve needs from the persistence layer.
type storage struct {
	tasks    tasks.Store
	recorder *analytics.Recorder
	close    func() error
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.DBDriver == "memory" {
		log.Println("⚠️ using in-memory storage, tasks are lost on restart")
		return &storage{tasks: tasks.NewMemoryStore(), close: func() error { return nil }}, nil
	}

	database, err := db.Connect(db.Dialect(cfg.DBDriver), cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		return nil, err
	}
	log.Printf("✅ connected to %s", cfg.DBDriver)

	return &storage{
		tasks:    tasks.NewSQLStore(database),
		recorder: analytics.NewRecorder(database),
		close:    database.Close,
	}, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	var events eventLogger
	if st.recorder != nil {
		events = st.recorder
	}

	tg, err := telegram.New(cfg.TelegramToken, cfg.SendRate)
	if err != nil {
		return err
	}

	sessions := conversation.NewMemorySessions(cfg.SessionIdleTimeout.Duration)
	engine := conversation.New(st.tasks, sessions, deadline.NewParser(loc), conversation.Options{
		Location:              loc,
		ReminderOffsetMinutes: cfg.ReminderOffsetMinutes,
		Events:                events,
	})
	router := &bot.Router{
		Store:       st.tasks,
		Engine:      engine,
		Events:      events,
		Location:    loc,
		TokenSecret: []byte(cfg.JWTSecret),
		TokenTTL:    auth.DefaultTTL,
	}
	dispatcher := bot.NewDispatcher(router, tg, cfg.Workers)
	scheduler := reminder.New(st.tasks, tg, reminder.Options{
		Interval:     cfg.ReminderInterval.Duration,
		InitialDelay: cfg.ReminderInitialDelay.Duration,
		ScanTimeout:  cfg.ReminderInterval.Duration,
		Location:     loc,
		Events:       events,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           withCORS(newMux(st, events, scheduler, sessions, cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = dispatcher.Run(ctx, tg.Updates(ctx))
	}()
	go func() {
		defer wg.Done()
		_ = scheduler.Run(ctx)
	}()
	if cfg.SessionIdleTimeout.Duration > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweepSessions(ctx, sessions, cfg.SessionIdleTimeout.Duration)
		}()
	}

	httpErr := make(chan error, 1)
	go func() {
		log.Printf("🚀 API server is running on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Println("🛑 shutting down")
	case err, ok := <-httpErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] http shutdown: %v", err)
	}

	wg.Wait()
	log.Println("👋 bye")
	return runErr
}

func sweepSessions(ctx context.Context, sessions *conversation.MemorySessions, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(); n > 0 {
				log.Printf("[INFO] dropped %d idle conversations", n)
			}
		}
	}
}

func newMux(st *storage, events eventLogger, scheduler *reminder.Scheduler, sessions *conversation.MemorySessions, cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()
	authMW := auth.New([]byte(cfg.JWTSecret))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		stats := scheduler.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":               "ok",
			"active_conversations": sessions.Len(),
			"reminder_scans":       stats.Scans,
			"reminders_sent":       stats.Approaching + stats.Overdue,
			"reminders_failed":     stats.Failed,
			"malformed_deadlines":  stats.Malformed,
		})
	})

	mux.HandleFunc("GET /api/me", authMW.Wrap(auth.MeHandler()))

	api := &tasks.HTTPHandler{
		Store:                 st.tasks,
		UserID:                auth.UserIDFromContext,
		Events:                events,
		ReminderOffsetMinutes: cfg.ReminderOffsetMinutes,
	}
	api.Register(mux, authMW.Wrap)

	if st.recorder != nil {
		mux.HandleFunc("GET /api/stats", authMW.Wrap(analytics.StatsHandler(st.recorder)))
	}
	return mux
}

func withCORS(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(h)
}
