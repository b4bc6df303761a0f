// Package schedule runs deferred continuations without parking a goroutine
// for the duration of the wait.
package schedule

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a resumable unit of work fired by a Scheduler.
type Task func()

// Cancel stops a scheduled task. It reports whether the task was still pending.
type Cancel func() bool

// Scheduler defers tasks.
type Scheduler interface {
	After(d time.Duration, task Task) Cancel
}

// Timers schedules tasks on runtime timers and tracks the ones in flight so a
// shutdown can wait for them.
type Timers struct {
	wg       sync.WaitGroup
	pending  atomic.Int64
	activity *Activity
}

// NewTimers returns a timer-backed Scheduler.
func NewTimers() *Timers {
	return &Timers{}
}

// NewTrackedTimers returns a timer-backed Scheduler that also reports each
// task to a, from scheduling until the task returns or is cancelled.
func NewTrackedTimers(a *Activity) *Timers {
	return &Timers{activity: a}
}

func (t *Timers) After(d time.Duration, task Task) Cancel {
	t.wg.Add(1)
	t.pending.Add(1)
	t.activity.Begin()
	timer := time.AfterFunc(d, func() {
		defer t.wg.Done()
		defer t.activity.End()
		defer t.pending.Add(-1)
		task()
	})
	return func() bool {
		if timer.Stop() {
			t.pending.Add(-1)
			t.activity.End()
			t.wg.Done()
			return true
		}
		return false
	}
}

// Pending returns the number of tasks scheduled and not yet finished.
func (t *Timers) Pending() int {
	return int(t.pending.Load())
}

// Wait blocks until every scheduled task has run or been cancelled.
func (t *Timers) Wait() {
	t.wg.Wait()
}

type pending struct {
	at   time.Duration
	seq  int
	task Task
	done bool
}

// Manual is a Scheduler driven by Advance. Tasks fire in due order on the
// goroutine calling Advance or RunAll.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	queue []*pending
}

// NewManual returns a Scheduler whose clock only moves when told to.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) After(d time.Duration, task Task) Cancel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	p := &pending{at: m.now + d, seq: m.seq, task: task}
	m.queue = append(m.queue, p)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if p.done {
			return false
		}
		p.done = true
		return true
	}
}

// Pending returns the number of tasks not yet fired or cancelled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.queue {
		if !p.done {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and fires every task that became due,
// including tasks scheduled by the fired ones.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	fired := 0
	for {
		p := m.next(target)
		if p == nil {
			break
		}
		p.task()
		fired++
	}

	m.mu.Lock()
	if m.now < target {
		m.now = target
	}
	m.mu.Unlock()
	return fired
}

// RunAll fires tasks until none remain, however far in the future they are.
func (m *Manual) RunAll() int {
	fired := 0
	for {
		m.mu.Lock()
		var horizon time.Duration
		found := false
		for _, p := range m.queue {
			if !p.done && (!found || p.at > horizon) {
				horizon = p.at
				found = true
			}
		}
		delta := horizon - m.now
		m.mu.Unlock()
		if !found {
			return fired
		}
		fired += m.Advance(delta)
	}
}

func (m *Manual) next(target time.Duration) *pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.SliceStable(m.queue, func(i, j int) bool {
		if m.queue[i].at == m.queue[j].at {
			return m.queue[i].seq < m.queue[j].seq
		}
		return m.queue[i].at < m.queue[j].at
	})
	for _, p := range m.queue {
		if p.done || p.at > target {
			continue
		}
		p.done = true
		if p.at > m.now {
			m.now = p.at
		}
		m.compact()
		return p
	}
	return nil
}

func (m *Manual) compact() {
	live := m.queue[:0]
	for _, p := range m.queue {
		if !p.done {
			live = append(live, p)
		}
	}
	m.queue = live
}
