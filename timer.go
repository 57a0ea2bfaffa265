package finagle

import (
	"container/heap"
	"sync"
	"time"

	"github.com/robbinfan/finagle/internal/refcount"
)

// Timer is a single-goroutine deadline scheduler. One process-wide instance
// is shared by all built clients through a reference count; it exists while
// at least one client holds it.
type Timer struct {
	mu      sync.Mutex
	tasks   taskHeap
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

// TimerTask is a scheduled callback. Cancel prevents future runs; it does
// not interrupt a run already in progress.
type TimerTask struct {
	timer     *Timer
	fn        func()
	at        time.Time
	interval  time.Duration // 0 = one-shot
	index     int           // heap position, -1 when dequeued
	cancelled bool
}

// Cancel removes the task from the schedule. Safe after the timer has
// stopped; the heap is gone by then and there is nothing left to remove.
func (t *TimerTask) Cancel() {
	t.timer.mu.Lock()
	if !t.cancelled {
		t.cancelled = true
		if !t.timer.stopped && t.index >= 0 {
			heap.Remove(&t.timer.tasks, t.index)
		}
		t.index = -1
	}
	t.timer.mu.Unlock()
	t.timer.kick()
}

// NewTimer creates a running Timer. Most callers want the shared instance
// acquired during client assembly rather than their own.
func NewTimer() *Timer {
	t := &Timer{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go t.loop()
	return t
}

// Schedule runs fn once after delay.
func (t *Timer) Schedule(delay time.Duration, fn func()) *TimerTask {
	return t.add(&TimerTask{timer: t, fn: fn, at: time.Now().Add(delay)})
}

// ScheduleRepeating runs fn every interval, first firing one interval from
// now.
func (t *Timer) ScheduleRepeating(interval time.Duration, fn func()) *TimerTask {
	return t.add(&TimerTask{timer: t, fn: fn, at: time.Now().Add(interval), interval: interval})
}

// Stop halts the scheduler goroutine and drops all pending tasks. Safe to
// call more than once.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.tasks = nil
	t.mu.Unlock()
	close(t.done)
}

func (t *Timer) add(task *TimerTask) *TimerTask {
	t.mu.Lock()
	if t.stopped {
		task.cancelled = true
		task.index = -1
		t.mu.Unlock()
		return task
	}
	heap.Push(&t.tasks, task)
	t.mu.Unlock()
	t.kick()
	return task
}

func (t *Timer) kick() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Timer) loop() {
	for {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}
		now := time.Now()
		wait := time.Hour
		var due []*TimerTask
		for len(t.tasks) > 0 {
			next := t.tasks[0]
			if next.at.After(now) {
				wait = next.at.Sub(now)
				break
			}
			heap.Pop(&t.tasks)
			if next.cancelled {
				continue
			}
			if next.interval > 0 {
				next.at = now.Add(next.interval)
				heap.Push(&t.tasks, next)
			}
			due = append(due, next)
		}
		t.mu.Unlock()

		// Callbacks run outside the lock so they may schedule or cancel.
		for _, task := range due {
			task.fn()
		}
		if len(due) > 0 {
			continue
		}

		idle := time.NewTimer(wait)
		select {
		case <-idle.C:
		case <-t.wake:
			idle.Stop()
		case <-t.done:
			idle.Stop()
			return
		}
	}
}

type taskHeap []*TimerTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	task := x.(*TimerTask)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}

var sharedTimer = refcount.New(
	func() any { return NewTimer() },
	func(v any) { v.(*Timer).Stop() },
)

// acquireSharedTimer hands out the process-wide timer. The returned release
// function is idempotent; the timer is stopped when the last client
// releases it.
func acquireSharedTimer() (*Timer, func()) {
	t := sharedTimer.Acquire().(*Timer)
	var once sync.Once
	return t, func() {
		once.Do(func() { _ = sharedTimer.Release() })
	}
}
