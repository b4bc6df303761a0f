package schedule

import "sync"

// Activity counts outstanding work shared by several producers, such as
// scheduled continuations and bus deliveries that schedule or publish each
// other. A unit of work must Begin any follow-up before it Ends itself, so
// the count only reaches zero once the whole chain is done.
//
// A nil *Activity ignores every call.
type Activity struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

// NewActivity returns an idle Activity.
func NewActivity() *Activity {
	a := &Activity{}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Begin records one more unit of outstanding work.
func (a *Activity) Begin() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.n++
	a.mu.Unlock()
}

// End marks one unit of work finished.
func (a *Activity) End() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.n--
	if a.n <= 0 {
		a.n = 0
		a.cond.Broadcast()
	}
	a.mu.Unlock()
}

// Busy returns the number of outstanding units.
func (a *Activity) Busy() int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

// Wait blocks until no work is outstanding. Work may begin while Wait is
// blocked; it is waited for too.
func (a *Activity) Wait() {
	if a == nil {
		return
	}
	a.mu.Lock()
	for a.n > 0 {
		a.cond.Wait()
	}
	a.mu.Unlock()
}
