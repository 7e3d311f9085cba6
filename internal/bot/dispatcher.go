package bot

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/elKINTARO/todo-bot/internal/chat"
)

// Handler turns one event into replies.
type Handler interface {
	Handle(ctx context.Context, ev chat.Event) []chat.Reply
}

// Sender delivers replies to a user.
type Sender interface {
	Send(ctx context.Context, userID int64, reply chat.Reply) error
}

const (
	defaultWorkers = 8
	shardQueue     = 64

	// eventTimeout bounds handling and sending one event.
	eventTimeout = 30 * time.Second
)

// Dispatcher runs events on a fixed set of workers. Every user maps to one
// worker, so one user's events are handled in arrival order while different
// users proceed in parallel.
type Dispatcher struct {
	handler Handler
	sender  Sender
	workers int
}

func NewDispatcher(h Handler, s Sender, workers int) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Dispatcher{handler: h, sender: s, workers: workers}
}

// Run consumes events until ctx is cancelled or events is closed. Events
// already queued to a worker are still handled before Run returns.
func (d *Dispatcher) Run(ctx context.Context, events <-chan chat.Event) error {
	shards := make([]chan chat.Event, d.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan chat.Event, shardQueue)
		wg.Add(1)
		go func(queue <-chan chat.Event) {
			defer wg.Done()
			for ev := range queue {
				d.process(context.WithoutCancel(ctx), ev)
			}
		}(shards[i])
	}

	log.Printf("📨 dispatcher started workers=%d", d.workers)

	defer func() {
		for _, q := range shards {
			close(q)
		}
		wg.Wait()
		log.Println("📨 dispatcher drained")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			select {
			case shards[d.shard(ev.UserID)] <- ev:
			case <-ctx.Done():
				log.Printf("[WARN] dropped event on shutdown user_id=%d kind=%s", ev.UserID, ev.Kind)
				return nil
			}
		}
	}
}

func (d *Dispatcher) shard(userID int64) int {
	return int(uint64(userID) % uint64(d.workers))
}

func (d *Dispatcher) process(ctx context.Context, ev chat.Event) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			log.Printf("[ERROR] panic handling event user_id=%d kind=%s: %v", ev.UserID, ev.Kind, p)
		}
	}()

	for _, reply := range d.handler.Handle(ctx, ev) {
		if err := d.sender.Send(ctx, ev.UserID, reply); err != nil {
			log.Printf("[WARN] reply user_id=%d: %v", ev.UserID, err)
		}
	}
}
