// Package output fans the supervised server's output lines out to any
// number of sinks without ever blocking the producer.
//
// Every sink gets its own bounded queue and delivery goroutine. When a
// sink falls behind, its oldest pending lines are discarded and counted;
// other sinks and the producer are unaffected.
package output

import (
	"sync"
	"sync/atomic"

	"github.com/jalho/rad/internal/metrics"
	"github.com/jalho/rad/internal/process"
)

// DefaultBuffer is the queue length used when Register is given n <= 0.
const DefaultBuffer = 1024

// Sink consumes output lines. Deliver is called from a single goroutine
// per subscription, in publish order.
type Sink interface {
	Deliver(line process.OutputLine)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(process.OutputLine)

func (f SinkFunc) Deliver(line process.OutputLine) { f(line) }

// Router distributes published lines to registered subscriptions.
type Router struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

func NewRouter() *Router {
	return &Router{subs: make(map[uint64]*Subscription)}
}

// Register attaches sink. It receives only lines published after this call.
func (r *Router) Register(sink Sink, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{
		router: r,
		sink:   sink,
		ring:   make([]process.OutputLine, buffer),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(s.done)
		return s
	}
	r.nextID++
	s.id = r.nextID
	r.subs[s.id] = s
	r.wg.Add(1)
	r.mu.Unlock()

	go s.run(&r.wg)
	return s
}

// Publish hands line to every subscription. It never blocks on a sink.
func (r *Router) Publish(line process.OutputLine) {
	metrics.IncOutputLine(line.Origin.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	for _, s := range r.subs {
		s.enqueue(line)
	}
}

// Len reports the number of active subscriptions.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close stops accepting lines and waits for every sink to finish what it
// already holds.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	r.subs = map[uint64]*Subscription{}
	r.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	r.wg.Wait()
}

func (r *Router) remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// Subscription is one sink's attachment to a Router.
type Subscription struct {
	id     uint64
	router *Router
	sink   Sink

	mu      sync.Mutex
	ring    []process.OutputLine
	head    int
	size    int
	stopped bool

	dropped atomic.Uint64
	signal  chan struct{}
	done    chan struct{}
}

// Dropped reports how many lines were discarded because the sink lagged.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Done is closed after the delivery goroutine exits.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unregisters the subscription. Pending lines are still delivered.
func (s *Subscription) Close() {
	if s.router != nil && s.router.remove(s.id) {
		s.stop()
	}
	<-s.done
}

func (s *Subscription) enqueue(line process.OutputLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	n := len(s.ring)
	if s.size == n {
		// Overwrite the oldest entry.
		s.ring[s.head] = line
		s.head = (s.head + 1) % n
		s.dropped.Add(1)
		metrics.IncOutputDropped()
	} else {
		s.ring[(s.head+s.size)%n] = line
		s.size++
	}
	// signal is closed only under mu with stopped set, so this send is safe.
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.signal)
}

// drain takes every pending line at once so Deliver runs without the lock.
func (s *Subscription) drain() []process.OutputLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 {
		return nil
	}
	out := make([]process.OutputLine, s.size)
	n := len(s.ring)
	for i := 0; i < s.size; i++ {
		out[i] = s.ring[(s.head+i)%n]
		s.ring[(s.head+i)%n] = process.OutputLine{}
	}
	s.head = 0
	s.size = 0
	return out
}

func (s *Subscription) run(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(s.done)
	for {
		_, ok := <-s.signal
		for _, line := range s.drain() {
			s.sink.Deliver(line)
		}
		if !ok {
			return
		}
	}
}
