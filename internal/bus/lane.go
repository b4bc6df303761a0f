package bus

import "sync"

// lane is an unbounded FIFO drained by a single goroutine. It never blocks a
// publisher, so handlers may publish freely without risking lane deadlocks.
type lane struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []delivery
	closed bool
}

func newLane() *lane {
	l := &lane{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *lane) push(d delivery) {
	l.mu.Lock()
	l.items = append(l.items, d)
	l.mu.Unlock()
	l.cond.Signal()
}

func (l *lane) pop() (delivery, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.items) == 0 && !l.closed {
		l.cond.Wait()
	}
	if len(l.items) == 0 {
		return delivery{}, false
	}
	d := l.items[0]
	l.items[0] = delivery{}
	l.items = l.items[1:]
	return d, true
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()
}
