package taskio

import (
	"sync"
	"time"

	"github.com/fuxiaohei/lol-serverless/errors"
)

// Status is a task's own completion state.
type Status int

const (
	StatusPending Status = iota
	StatusFinished
)

// Timing is the state of any timer associated with a task. Tasks created by
// New have no timer (TimingNone) and are runnable the instant they're
// created; tasks created by Sleep carry TimingPending until the host timer
// fires.
type Timing int

const (
	TimingNone Timing = iota
	TimingPending
	TimingFinished
)

// Task is one row of the coordinator's table (spec.md §3 AsyncTask).
type Task struct {
	ID     uint32
	Status Status
	Timing Timing
}

func runnable(t *Task) bool {
	return t.Status == StatusPending && t.Timing != TimingPending
}

// Coordinator is the per-request async-io task table. Not safe to share
// across requests.
type Coordinator struct {
	mu     sync.Mutex
	nextID uint32
	tasks  map[uint32]*Task
	notify chan struct{}
}

// New creates an empty coordinator.
func New() *Coordinator {
	return &Coordinator{
		tasks:  make(map[uint32]*Task),
		notify: make(chan struct{}, 1),
	}
}

func (c *Coordinator) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// NewTask registers a task with no associated timer, immediately runnable.
// Intended for wait-until work the guest wants to run at the next
// opportunity in the drain loop.
func (c *Coordinator) NewTask() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.tasks[id] = &Task{ID: id, Status: StatusPending, Timing: TimingNone}
	c.signal()
	return id
}

// Sleep registers a task gated on a host-side timer of the given duration in
// milliseconds. The task is not runnable until the timer fires.
func (c *Coordinator) Sleep(ms uint32) uint32 {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.tasks[id] = &Task{ID: id, Status: StatusPending, Timing: TimingPending}
	c.mu.Unlock()

	time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		c.mu.Lock()
		if t, ok := c.tasks[id]; ok {
			t.Timing = TimingFinished
		}
		c.mu.Unlock()
		c.signal()
	})

	return id
}

// Finish marks id's own status Finished — an explicit completion signal for
// tasks the guest tracks outside the timer mechanism (e.g. a new() handle
// the guest is done with before select ever returned it). A no-op for
// unknown or already-removed ids, matching the original's "finish on a task
// that's already gone is harmless" behavior.
func (c *Coordinator) Finish(id uint32) {
	c.mu.Lock()
	if t, ok := c.tasks[id]; ok {
		t.Status = StatusFinished
	}
	c.mu.Unlock()
	c.signal()
}

// Select removes and returns one runnable task's id. Returns (id, true) when
// a runnable task was found and removed; (0, true) when the table holds
// pending work but nothing is runnable yet ("waiting"); (0, false) when the
// table is empty.
//
// Explicitly-finished tasks (status=Finished, acknowledged via Finish) carry
// no further work — select sweeps them out of the table as it scans, per
// spec.md §3's "finished tasks remain in the table until selected out".
func (c *Coordinator) Select() (id uint32, waiting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.tasks) == 0 {
		return 0, false
	}

	for tid, t := range c.tasks {
		if t.Status == StatusFinished {
			delete(c.tasks, tid)
		}
	}

	for tid, t := range c.tasks {
		if runnable(t) {
			delete(c.tasks, tid)
			return tid, true
		}
	}

	return 0, true
}

// IsPending reports whether the table holds any task at all, runnable or
// not. A false result means a subsequent Select is guaranteed to return
// (0, false) — no intervening registration races, since both run under the
// same Coordinator's lock from the guest's single-threaded perspective.
func (c *Coordinator) IsPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks) > 0
}

// Ready blocks until some task transitions (a timer fires or Finish is
// called) or the context-like done channel closes, whichever first. Callers
// typically loop: Select, and if waiting, Ready, and Select again.
func (c *Coordinator) Ready(done <-chan struct{}) error {
	select {
	case <-c.notify:
		return nil
	case <-done:
		return errors.Timeout("ready", nil)
	}
}
