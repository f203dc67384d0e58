package state

import (
	"sync"

	"github.com/rs/zerolog"

	"taskforge/internal/domain"
)

// Event names the lifecycle notifications emitted by the Manager.
type Event string

const (
	EventTaskCreated       Event = "task.created"
	EventTaskStarted       Event = "task.started"
	EventTaskCompleted     Event = "task.completed"
	EventTaskFailed        Event = "task.failed"
	EventTaskPaused        Event = "task.paused"
	EventTaskCancelled     Event = "task.cancelled"
	EventTaskRequeued      Event = "task.requeued"
	EventTaskRetried       Event = "task.retried"
	EventTaskDeleted       Event = "task.deleted"
	EventTaskStatusChanged Event = "task.status.changed"
)

// Listener receives a lifecycle event with a snapshot copy of the task.
type Listener func(ev Event, task domain.Task)

type subscription struct {
	id int
	fn Listener
}

// Emitter is a synchronous observer list scoped to one Manager.
// Go function values are not comparable, so On returns a token that
// Off uses to remove the listener.
type Emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[Event][]subscription
	log       zerolog.Logger
}

func NewEmitter(log zerolog.Logger) *Emitter {
	return &Emitter{
		listeners: make(map[Event][]subscription),
		log:       log,
	}
}

// On registers fn for ev and returns a subscription token for Off.
func (e *Emitter) On(ev Event, fn Listener) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners[ev] = append(e.listeners[ev], subscription{id: e.nextID, fn: fn})
	return e.nextID
}

// Off removes the subscription identified by token from ev.
func (e *Emitter) Off(ev Event, token int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.listeners[ev]
	for i, s := range subs {
		if s.id == token {
			e.listeners[ev] = append(append([]subscription{}, subs[:i]...), subs[i+1:]...)
			return
		}
	}
}

// Emit delivers ev to listeners in registration order. Delivery is
// synchronous and happens outside the Manager's lock, so listeners may
// call back into the Manager. A panicking listener is recovered and
// logged so one bad subscriber cannot wedge a status transition.
func (e *Emitter) Emit(ev Event, task domain.Task) {
	e.mu.RLock()
	subs := make([]subscription, len(e.listeners[ev]))
	copy(subs, e.listeners[ev])
	e.mu.RUnlock()

	for _, s := range subs {
		e.call(ev, s, task)
	}
}

func (e *Emitter) call(ev Event, s subscription, task domain.Task) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Str("event", string(ev)).
				Str("task_id", task.ID).
				Interface("panic", r).
				Msg("event listener panicked")
		}
	}()
	s.fn(ev, task)
}
