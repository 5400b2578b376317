package tasks_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/tagpromoter/gitops/promoter"
	"github.com/byte4ever/tagpromoter/gitops/tasks"
)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func TestRegistry_lifecycle(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := tasks.NewRegistry(tasks.WithClock(clk.Now))
	req := promoter.Request{Component: "myapp", BranchName: "pre-myapp"}

	_, ok := reg.Get("t1")
	assert.False(t, ok)

	reg.AddForTest("t1", req)

	got, ok := reg.Get("t1")
	require.True(t, ok)
	assert.Equal(t, tasks.StatePending, got.State)
	assert.Equal(t, req, got.Request)
	assert.Equal(t, clk.Now(), got.Submitted)

	clk.Advance(time.Second)
	reg.StartForTest("t1")

	got, _ = reg.Get("t1")
	assert.Equal(t, tasks.StateRunning, got.State)
	assert.False(t, got.State.Finished())

	clk.Advance(time.Second)

	state := reg.FinishForTest("t1", promoter.PullRequestCreated("u"))
	assert.Equal(t, tasks.StateDone, state)

	got, _ = reg.Get("t1")
	assert.Equal(t, tasks.StateDone, got.State)
	assert.Equal(t, "u", got.Outcome.URL)
	assert.Equal(t, 2*time.Second, got.Finished.Sub(got.Submitted))
}

func TestRegistry_failed_outcome(t *testing.T) {
	t.Parallel()

	reg := tasks.NewRegistry()
	reg.AddForTest("t1", promoter.Request{})

	state := reg.FinishForTest(
		"t1",
		promoter.Failed(promoter.StateStart, errors.New("boom")),
	)

	assert.Equal(t, tasks.StateFailed, state)
	assert.True(t, state.Finished())
}

func TestRegistry_Prune(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := tasks.NewRegistry(tasks.WithClock(clk.Now))

	reg.AddForTest("old", promoter.Request{})
	reg.FinishForTest("old", promoter.NoChangeNeeded())

	reg.AddForTest("running", promoter.Request{})
	reg.StartForTest("running")

	clk.Advance(time.Hour)

	reg.AddForTest("recent", promoter.Request{})
	reg.FinishForTest("recent", promoter.NoChangeNeeded())

	assert.Equal(t, 1, reg.Prune(30*time.Minute))
	assert.Equal(t, 2, reg.LenForTest())

	_, ok := reg.Get("old")
	assert.False(t, ok)

	_, ok = reg.Get("running")
	assert.True(t, ok)
}

func TestRegistry_concurrent_access(t *testing.T) {
	t.Parallel()

	reg := tasks.NewRegistry()

	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			id := string(rune('a' + i%26))
			reg.AddForTest(id, promoter.Request{})
			reg.StartForTest(id)
			reg.Get(id)
			reg.FinishForTest(id, promoter.NoChangeNeeded())
			reg.Prune(time.Hour)
		}()
	}

	wg.Wait()
	assert.LessOrEqual(t, reg.LenForTest(), 26)
}
