package lock

import (
	"sync"
	"testing"

	"github.com/0ctobyte/popcorn-sub000/internal/spinlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWaiter struct{ vrt uint64 }

func (w *fakeWaiter) Vruntime() uint64 { return w.vrt }

// fakeSleeper swaps the thread surface for a controllable one: Current
// is whatever the test says, Sleep spins like the pre-boot fallback,
// and wakes are recorded.
type fakeSleeper struct {
	current     Waiter_t
	wakes       int
	wakeOnes    int
	wokeThreads []Waiter_t
}

func (f *fakeSleeper) Current() Waiter_t { return f.current }
func (f *fakeSleeper) Sleep(event interface{}, interlock *spinlock.Spinlock_t, interruptible bool) {
	interlock.ReleaseIrq()
}
func (f *fakeSleeper) Wake(event interface{})    { f.wakes++ }
func (f *fakeSleeper) WakeOne(event interface{}) { f.wakeOnes++ }
func (f *fakeSleeper) WakeThread(w Waiter_t)     { f.wokeThreads = append(f.wokeThreads, w) }

func withSleeper(t *testing.T, s Sleeper_t) {
	t.Helper()
	SetSleeper(s)
	t.Cleanup(func() { SetSleeper(spinSleeper{}) })
}

func TestExclusiveRoundTrip(t *testing.T) {
	var l Lock_t

	l.AcquireExclusive()
	assert.Equal(t, Exclusive, l.state)
	assert.False(t, l.TryAcquireExclusive())
	assert.False(t, l.TryAcquireShared())

	l.ReleaseExclusive()
	assert.Equal(t, Free, l.state)
}

func TestSharedAllowsMoreReaders(t *testing.T) {
	var l Lock_t

	l.AcquireShared()
	assert.Equal(t, Shared, l.state)
	require.True(t, l.TryAcquireShared())
	assert.Equal(t, 2, l.sharedCount)
	assert.False(t, l.TryAcquireExclusive())

	l.ReleaseShared()
	l.ReleaseShared()
	assert.Equal(t, Free, l.state)
}

func TestSharedBlockedByPendingUpgradeUnlessSmallerVruntime(t *testing.T) {
	fs := &fakeSleeper{}
	withSleeper(t, fs)

	var l Lock_t
	l.state = ExclusiveUpgrade
	l.sharedCount = 1
	upgrader := &fakeWaiter{vrt: 5}
	l.thread = upgrader

	fs.current = &fakeWaiter{vrt: 20}
	assert.False(t, l.TryAcquireShared(),
		"a longer-running reader must wait behind the pending upgrade")

	fs.current = &fakeWaiter{vrt: 3}
	assert.True(t, l.TryAcquireShared(),
		"a shorter-running reader may overtake the pending upgrade")
	assert.Equal(t, ExclusiveUpgrade, l.state, "overtaking does not cancel the upgrade bid")

	l.ReleaseShared()
	l.ReleaseShared()
}

func TestReleaseSharedWakesOnlyDesignatedUpgrader(t *testing.T) {
	fs := &fakeSleeper{}
	withSleeper(t, fs)

	var l Lock_t
	upgrader := &fakeWaiter{vrt: 5}
	l.state = ExclusiveUpgrade
	l.sharedCount = 2
	l.thread = upgrader

	l.ReleaseShared()
	assert.Empty(t, fs.wokeThreads, "not the last reader: nobody wakes")
	assert.Zero(t, fs.wakes)

	l.ReleaseShared()
	require.Len(t, fs.wokeThreads, 1, "last reader wakes exactly the upgrader")
	assert.Same(t, upgrader, fs.wokeThreads[0].(*fakeWaiter))
	assert.Zero(t, fs.wakes, "no broadcast when an upgrade is pending")
	assert.Equal(t, Free, l.state)
}

func TestReleaseSharedBroadcastsWithoutUpgrader(t *testing.T) {
	fs := &fakeSleeper{}
	withSleeper(t, fs)

	var l Lock_t
	l.AcquireShared()
	l.ReleaseShared()

	assert.Equal(t, 1, fs.wakes, "last reader with no upgrade pending wakes all waiters")
	assert.Empty(t, fs.wokeThreads)
}

func TestWriterWaitsForReaders(t *testing.T) {
	var l Lock_t
	l.AcquireShared()

	got := make(chan struct{})
	go func() {
		l.AcquireExclusive()
		close(got)
	}()

	// The writer can only get in once the reader drains.
	l.ReleaseShared()
	<-got
	assert.Equal(t, Exclusive, l.state)
	l.ReleaseExclusive()
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	var l Lock_t
	shared := 0

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				l.AcquireExclusive()
				shared++
				l.ReleaseExclusive()
			}
		}()
	}
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				l.AcquireShared()
				_ = shared
				l.ReleaseShared()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, shared)
}
