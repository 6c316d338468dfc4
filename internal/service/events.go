package service

import "sync"

// eventQueue entrega eventos en orden desde una única goroutine sin bloquear a quien
// publica, así el controlador puede publicar con su mutex tomado.
type eventQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Event
	closed  bool
	deliver func(Event)
	done    chan struct{}
}

func newEventQueue(deliver func(Event)) *eventQueue {
	q := &eventQueue{deliver: deliver, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, e)
	q.cond.Signal()
}

func (q *eventQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		e := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.deliver(e)
	}
}

// close deja terminar la entrega de lo ya encolado.
func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

// EventInbox acumula eventos para un observador que los consume a su ritmo.
// Push nunca bloquea ni descarta; Ready avisa que hay eventos para Drain.
type EventInbox struct {
	mu    sync.Mutex
	items []Event
	ready chan struct{}
}

func NewEventInbox() *EventInbox {
	return &EventInbox{ready: make(chan struct{}, 1)}
}

// Push sirve directamente como Observer.
func (b *EventInbox) Push(e Event) {
	b.mu.Lock()
	b.items = append(b.items, e)
	b.mu.Unlock()
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *EventInbox) Ready() <-chan struct{} {
	return b.ready
}

// Drain devuelve los eventos pendientes en orden de llegada.
func (b *EventInbox) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}
