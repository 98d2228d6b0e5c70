// README: Event notifier fans domain events out to subscribers, one ordered queue per subscriber.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"yisong/internal/modules/order"
)

type Subscriber interface {
	Name() string
	Handle(ctx context.Context, evt order.DomainEvent) error
}

type Options struct {
	QueueSize      int
	MaxAttempts    int
	Backoff        time.Duration
	HandlerTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = 5 * time.Second
	}
	return o
}

// worker owns one subscriber's FIFO. The backlog grows past QueueSize instead of dropping.
type worker struct {
	sub  Subscriber
	wake chan struct{}

	mu      sync.Mutex
	pending []order.DomainEvent
	done    bool
	warned  bool
}

func (w *worker) push(evt order.DomainEvent, warnAt int) {
	w.mu.Lock()
	w.pending = append(w.pending, evt)
	backlog := len(w.pending)
	warn := backlog > warnAt && !w.warned
	if warn {
		w.warned = true
	}
	w.mu.Unlock()
	if warn {
		log.Printf("notify: %s backlog at %d events", w.sub.Name(), backlog)
	}
	w.signal()
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// next blocks until an event is queued; ok is false once the worker is closed and drained.
func (w *worker) next() (order.DomainEvent, bool) {
	for {
		w.mu.Lock()
		if len(w.pending) > 0 {
			evt := w.pending[0]
			w.pending[0] = order.DomainEvent{}
			w.pending = w.pending[1:]
			if len(w.pending) == 0 {
				w.warned = false
			}
			w.mu.Unlock()
			return evt, true
		}
		if w.done {
			w.mu.Unlock()
			return order.DomainEvent{}, false
		}
		w.mu.Unlock()
		<-w.wake
	}
}

func (w *worker) close() {
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
	w.signal()
}

// Notifier implements order.Publisher. Publish never blocks the caller and never drops an
// event: each subscriber drains its own queue in publish order. QueueSize is the backlog
// past which a slow subscriber is logged.
type Notifier struct {
	opts    Options
	workers []*worker
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func New(opts Options, subs ...Subscriber) *Notifier {
	n := &Notifier{opts: opts.withDefaults()}
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		w := &worker{
			sub:     sub,
			wake:    make(chan struct{}, 1),
			pending: make([]order.DomainEvent, 0, n.opts.QueueSize),
		}
		n.workers = append(n.workers, w)
		n.wg.Add(1)
		go n.run(w)
	}
	return n
}

func (n *Notifier) Publish(_ context.Context, evt order.DomainEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for _, w := range n.workers {
		w.push(evt, n.opts.QueueSize)
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for _, w := range n.workers {
		w.close()
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) run(w *worker) {
	defer n.wg.Done()
	for {
		evt, ok := w.next()
		if !ok {
			return
		}
		n.deliver(w.sub, evt)
	}
}

// deliver retries in place so later events for the subscriber wait their turn.
func (n *Notifier) deliver(sub Subscriber, evt order.DomainEvent) {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), n.opts.HandlerTimeout)
		err := sub.Handle(ctx, evt)
		cancel()
		if err == nil {
			return
		}
		if attempt >= n.opts.MaxAttempts {
			log.Printf("notify: %s gave up on %s for order %s: %v", sub.Name(), evt.Type, evt.OrderID, err)
			return
		}
		log.Printf("notify: %s attempt %d for %s failed: %v", sub.Name(), attempt, evt.Type, err)
		time.Sleep(n.opts.Backoff * time.Duration(attempt))
	}
}
