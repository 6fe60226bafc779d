package session

import (
	"context"
	"sync"
)

// Dispatcher runs events in arrival order per user and in parallel across
// users. Each user with pending events gets one goroutine.
type Dispatcher struct {
	handle    func(ctx context.Context, ev Event)
	interrupt func(userID int64)

	mu     sync.Mutex
	queues map[int64][]Event
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher feeding handle. interrupt, when set,
// runs as soon as a cancel arrives, ahead of the user's queued events.
func NewDispatcher(handle func(ctx context.Context, ev Event), interrupt func(userID int64)) *Dispatcher {
	return &Dispatcher{
		handle:    handle,
		interrupt: interrupt,
		queues:    make(map[int64][]Event),
	}
}

// Dispatch queues ev behind the user's earlier events. It never blocks on
// event processing.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	if ev.Command == CmdCancel && d.interrupt != nil {
		d.interrupt(ev.UserID)
	}

	d.mu.Lock()
	q, running := d.queues[ev.UserID]
	d.queues[ev.UserID] = append(q, ev)
	if !running {
		d.wg.Add(1)
		go d.drain(ctx, ev.UserID)
	}
	d.mu.Unlock()
}

// Wait blocks until every queued event has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain(ctx context.Context, userID int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[userID]
		if len(q) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		ev := q[0]
		d.queues[userID] = q[1:]
		d.mu.Unlock()

		d.handle(ctx, ev)
	}
}
