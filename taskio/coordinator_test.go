package taskio

import (
	"testing"
	"time"
)

// TestSleepBecomesRunnable mirrors original_source's asyncio_test::test_sleep:
// a sleep task is not runnable until its timer fires, after which select
// returns its id exactly once.
func TestSleepBecomesRunnable(t *testing.T) {
	c := New()
	id := c.Sleep(20)

	if got, waiting := c.Select(); got != 0 || !waiting {
		t.Fatalf("Select before timer = (%d, %v), want (0, true)", got, waiting)
	}

	done := make(chan struct{})
	if err := c.Ready(done); err != nil {
		t.Fatalf("Ready: %v", err)
	}

	got, waiting := c.Select()
	if got != id || !waiting {
		t.Fatalf("Select after timer = (%d, %v), want (%d, true)", got, waiting, id)
	}

	if got, waiting := c.Select(); got != 0 || waiting {
		t.Fatalf("second Select = (%d, %v), want (0, false) — table should be empty", got, waiting)
	}
}

// TestNewTaskRunnableImmediately checks that a plain NewTask is runnable the
// instant it's registered, with no timer gating it.
func TestNewTaskRunnableImmediately(t *testing.T) {
	c := New()
	id := c.NewTask()

	got, waiting := c.Select()
	if got != id || !waiting {
		t.Fatalf("Select = (%d, %v), want (%d, true)", got, waiting, id)
	}
}

// TestSelectNeverRepeats checks the invariant that a runnable task, once
// returned by Select, is removed from the table.
func TestSelectNeverRepeats(t *testing.T) {
	c := New()
	c.NewTask()

	first, _ := c.Select()
	if first == 0 {
		t.Fatal("expected a runnable id on first select")
	}
	second, waiting := c.Select()
	if second != 0 || waiting {
		t.Fatalf("second Select = (%d, %v), want (0, false)", second, waiting)
	}
}

// TestIsPendingReflectsEmptyTable verifies invariant: is-pending() = false
// implies a subsequent select returns false.
func TestIsPendingReflectsEmptyTable(t *testing.T) {
	c := New()
	if c.IsPending() {
		t.Fatal("empty coordinator reports pending")
	}
	if _, waiting := c.Select(); waiting {
		t.Fatal("select on empty table reported waiting")
	}

	c.NewTask()
	if !c.IsPending() {
		t.Fatal("coordinator with a task reports not pending")
	}
}

// TestFinishSweepsTask checks that an explicitly-finished task is removed by
// the next Select without ever being reported as runnable.
func TestFinishSweepsTask(t *testing.T) {
	c := New()
	id := c.NewTask()
	c.Finish(id)

	// Finish races the task's own immediate runnability: NewTask created it
	// runnable, so draining whichever state wins is fine either way — what
	// matters is the table ends up empty, not growing unboundedly.
	for i := 0; i < 2; i++ {
		if _, waiting := c.Select(); !waiting {
			break
		}
	}
	if c.IsPending() {
		t.Fatal("task still pending after finish + drain")
	}
}

// TestWaitUntilScenario exercises the seed scenario: two immediately
// runnable handlers plus one longer sleep, all drained via repeated
// select/ready within a bounded overall time.
func TestWaitUntilScenario(t *testing.T) {
	c := New()
	c.NewTask()
	c.NewTask()
	sleepID := c.Sleep(30)

	seen := map[uint32]bool{}
	deadline := time.After(500 * time.Millisecond)
	for len(seen) < 3 {
		id, waiting := c.Select()
		if id != 0 {
			seen[id] = true
			continue
		}
		if !waiting {
			t.Fatal("table emptied before all three tasks were seen")
		}
		select {
		case <-deadline:
			t.Fatal("drain loop exceeded deadline")
		default:
		}
		done := make(chan struct{})
		if err := c.Ready(done); err != nil {
			t.Fatalf("Ready: %v", err)
		}
	}
	if !seen[sleepID] {
		t.Fatal("sleep task was never selected")
	}
}
