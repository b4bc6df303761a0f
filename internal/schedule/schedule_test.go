package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual_FiresInDueOrderIncludingRescheduled(t *testing.T) {
	m := NewManual()
	var order []string

	m.After(10*time.Second, func() { order = append(order, "delivered") })
	m.After(2*time.Second, func() {
		order = append(order, "retry-2")
		m.After(2*time.Second, func() { order = append(order, "retry-3") })
	})

	assert.Equal(t, 2, m.Advance(5*time.Second))
	assert.Equal(t, []string{"retry-2", "retry-3"}, order)
	assert.Equal(t, 1, m.Pending())

	assert.Equal(t, 1, m.RunAll())
	assert.Equal(t, []string{"retry-2", "retry-3", "delivered"}, order)
	assert.Zero(t, m.Pending())
}

func TestManual_Cancel(t *testing.T) {
	m := NewManual()
	fired := false
	cancel := m.After(time.Second, func() { fired = true })

	assert.True(t, cancel())
	assert.False(t, cancel())
	assert.Zero(t, m.RunAll())
	assert.False(t, fired)
}

func TestTimers_WaitCoversScheduledAndCancelled(t *testing.T) {
	tm := NewTimers()
	var n atomic.Int32
	tm.After(200*time.Millisecond, func() { n.Add(1) })
	cancel := tm.After(time.Hour, func() { n.Add(100) })
	assert.Equal(t, 2, tm.Pending())
	assert.True(t, cancel())

	tm.Wait()
	assert.Equal(t, int32(1), n.Load())
	assert.Zero(t, tm.Pending())
}

func TestActivity_WaitCoversWorkStartedByTasks(t *testing.T) {
	a := NewActivity()
	tm := NewTrackedTimers(a)
	var n atomic.Int32
	tm.After(20*time.Millisecond, func() {
		tm.After(20*time.Millisecond, func() { n.Add(1) })
	})
	assert.Equal(t, 1, a.Busy())

	a.Wait()
	assert.Equal(t, int32(1), n.Load())
	assert.Zero(t, a.Busy())
	assert.Zero(t, tm.Pending())

	cancel := tm.After(time.Hour, func() { n.Add(100) })
	assert.True(t, cancel())
	a.Wait()
	assert.Equal(t, int32(1), n.Load())
}

func TestActivity_NilIsIdle(t *testing.T) {
	var a *Activity
	a.Begin()
	a.End()
	a.Wait()
	assert.Zero(t, a.Busy())
}
