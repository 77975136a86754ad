package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTick = 5 * time.Millisecond

// tickRecorder captures tick and expiry emissions for assertions.
type tickRecorder struct {
	mu      sync.Mutex
	ticks   []int
	expires int
	expired chan struct{}
}

func newTickRecorder() *tickRecorder {
	return &tickRecorder{expired: make(chan struct{}, 4)}
}

func (r *tickRecorder) onTick(remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, remaining)
}

func (r *tickRecorder) onExpire() {
	r.mu.Lock()
	r.expires++
	r.mu.Unlock()
	r.expired <- struct{}{}
}

func (r *tickRecorder) snapshot() ([]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ticks...), r.expires
}

func waitExpired(t *testing.T, r *tickRecorder) {
	t.Helper()
	select {
	case <-r.expired:
	case <-time.After(2 * time.Second):
		t.Fatal("clock never expired")
	}
}

func TestClockCountsDownAndExpiresOnce(t *testing.T) {
	rec := newTickRecorder()
	c := NewClock(testTick, rec.onTick, rec.onExpire)

	require.NoError(t, c.Start(3))
	waitExpired(t, rec)

	// Give a stray second expiry a chance to fire.
	time.Sleep(5 * testTick)

	ticks, expires := rec.snapshot()
	assert.Equal(t, 1, expires)
	assert.Equal(t, []int{2, 1, 0}, ticks)
	assert.False(t, c.Running())
}

func TestClockTicksNeverIncrease(t *testing.T) {
	rec := newTickRecorder()
	c := NewClock(testTick, rec.onTick, rec.onExpire)

	require.NoError(t, c.Start(5))
	waitExpired(t, rec)

	ticks, _ := rec.snapshot()
	require.NotEmpty(t, ticks)
	for i := 1; i < len(ticks); i++ {
		assert.LessOrEqual(t, ticks[i], ticks[i-1], "remaining went up between ticks")
	}
}

func TestClockPauseFreezesRemaining(t *testing.T) {
	rec := newTickRecorder()
	c := NewClock(testTick, rec.onTick, rec.onExpire)
	defer c.Stop()

	require.NoError(t, c.Start(1000))
	time.Sleep(4 * testTick)
	c.Pause()

	frozen := c.Remaining()
	time.Sleep(10 * testTick)
	assert.Equal(t, frozen, c.Remaining())
	assert.True(t, c.Paused())

	// No ticks while frozen.
	before, _ := rec.snapshot()
	time.Sleep(5 * testTick)
	after, _ := rec.snapshot()
	assert.Equal(t, len(before), len(after))

	c.Resume()
	time.Sleep(4 * testTick)
	assert.Less(t, c.Remaining(), frozen)
}

func TestClockStopIsIdempotentAndSuppressesExpiry(t *testing.T) {
	rec := newTickRecorder()
	c := NewClock(testTick, rec.onTick, rec.onExpire)

	require.NoError(t, c.Start(1000))
	c.Stop()
	c.Stop()

	time.Sleep(5 * testTick)
	_, expires := rec.snapshot()
	assert.Zero(t, expires)
	assert.False(t, c.Running())
}

func TestClockRejectsOverlappingStart(t *testing.T) {
	c := NewClock(testTick, nil, nil)
	defer c.Stop()

	require.NoError(t, c.Start(1000))
	assert.ErrorIs(t, c.Start(10), ErrClockRunning)
}

func TestClockRestartAfterStop(t *testing.T) {
	rec := newTickRecorder()
	c := NewClock(testTick, rec.onTick, rec.onExpire)

	require.NoError(t, c.Start(1000))
	c.Stop()
	require.NoError(t, c.Start(2))
	waitExpired(t, rec)
}
