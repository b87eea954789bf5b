package backend

import (
	"sync"

	"github.com/mil-ad/kbdctl/internal/protocol"
	"github.com/mil-ad/kbdctl/internal/usb"
)

// Event is a broadcast notification from the worker.
type Event interface {
	isEvent()
}

// BoardLoading precedes the first BoardAdded of a refresh.
type BoardLoading struct{}

// BoardLoadingDone follows the last BoardAdded of a refresh.
type BoardLoadingDone struct{}

type BoardAdded struct {
	Info BoardInfo
}

type BoardRemoved struct {
	ID protocol.BoardID
}

// MatrixChanged carries a matrix that differs from the previous poll.
type MatrixChanged struct {
	ID     protocol.BoardID
	Matrix protocol.Matrix
}

// BoardNotUpdated means testing mode found firmware that needs updating
// before the board may be used.
type BoardNotUpdated struct{}

// BootloadedAdded reports a keyboard controller waiting in its bootloader.
type BootloadedAdded struct {
	Device usb.Bootloaded
}

type BootloadedRemoved struct {
	Device usb.Bootloaded
}

func (BoardLoading) isEvent()      {}
func (BoardLoadingDone) isEvent()  {}
func (BoardAdded) isEvent()        {}
func (BoardRemoved) isEvent()      {}
func (MatrixChanged) isEvent()     {}
func (BoardNotUpdated) isEvent()   {}
func (BootloadedAdded) isEvent()   {}
func (BootloadedRemoved) isEvent() {}

// Hub fans events out to subscribers. Every subscriber has its own unbounded
// queue, so a slow reader never stalls the worker.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Subscribe returns a subscription receiving every later event in order.
// After Close it returns an already closed subscription.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		hub:    h,
		ch:     make(chan Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if h.closed {
		sub.stop()
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	go sub.drainLoop()
	return sub
}

// Publish queues ev for every current subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		sub.push(ev)
	}
}

// Close ends every subscription. Queued events are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

// Subscription is one reader's view of a Hub.
type Subscription struct {
	id  uint64
	hub *Hub

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}

	ch       chan Event
	done     chan struct{}
	stopOnce sync.Once
}

// C yields events until the subscription or its hub is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close unsubscribes.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
	s.stop()
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	ev := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return ev, true
}

func (s *Subscription) drainLoop() {
	defer close(s.ch)
	for {
		for {
			ev, ok := s.pop()
			if !ok {
				break
			}
			select {
			case s.ch <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.done:
			return
		case <-s.notify:
		}
	}
}
