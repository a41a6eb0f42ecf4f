package store

import (
	"sync"

	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// Hub fans insert events out to subscribers. Each subscriber has its own
// unbounded ordered queue and goroutine, so a slow handler never blocks
// Publish or other subscribers.
type Hub struct {
	metrics *observability.Metrics

	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

// NewHub creates an empty hub.
func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		metrics: metrics,
		subs:    make(map[uint64]*subscriber),
	}
}

// Subscribe registers handler and starts its delivery goroutine.
func (h *Hub) Subscribe(handler func(types.Observation)) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	h.nextID++
	sub := &subscriber{
		id:      h.nextID,
		hub:     h,
		handler: handler,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	h.subs[sub.id] = sub
	h.metrics.ActiveSubscriptions.Inc()

	go sub.run()
	return sub, nil
}

// Publish queues o for every current subscriber. Callers publish in insert
// order.
func (h *Hub) Publish(o types.Observation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		sub.enqueue(o)
	}
}

// Close ends every subscription and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		delete(h.subs, id)
		h.metrics.ActiveSubscriptions.Dec()
	}
}

type subscriber struct {
	id      uint64
	hub     *Hub
	handler func(types.Observation)

	mu    sync.Mutex
	queue []types.Observation

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *subscriber) enqueue(o types.Observation) {
	s.mu.Lock()
	s.queue = append(s.queue, o)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) next() (types.Observation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return types.Observation{}, false
	}
	o := s.queue[0]
	s.queue[0] = types.Observation{}
	s.queue = s.queue[1:]
	return o, true
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}

		for {
			o, ok := s.next()
			if !ok {
				break
			}
			select {
			case <-s.quit:
				return
			default:
			}
			s.handler(o)
			s.hub.metrics.EventsDelivered.Inc()
		}
	}
}

// Unsubscribe stops delivery and waits for an in-flight handler call.
func (s *subscriber) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s.id)
		close(s.quit)
	})
	<-s.done
}
