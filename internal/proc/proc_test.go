package proc

import (
	"sync"
	"testing"

	"github.com/0ctobyte/popcorn-sub000/internal/pmap"
	"github.com/0ctobyte/popcorn-sub000/internal/scheduler"
	"github.com/0ctobyte/popcorn-sub000/internal/vmmap"
	"github.com/0ctobyte/popcorn-sub000/internal/vmobject"
	"github.com/0ctobyte/popcorn-sub000/internal/vmpage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var setupOnce sync.Once
var fakeClock uint64

func clock() uint64 {
	fakeClock++
	return fakeClock
}

func setup(t *testing.T) {
	t.Helper()
	setupOnce.Do(func() {
		vmpage.Init(16*1024*1024, 4096)
		vmobject.Init()
		pmap.Bootstrap(4096, 12)
		pmap.Init()
		vmmap.InitKernelMap(0x40000000, 0x80000000)

		InitTask(vmmap.KernelMap())
		InitThread(scheduler.Clock_t(clock))
	})
}

func TestCreateTaskInheritFalseGetsEmptyMap(t *testing.T) {
	setup(t)

	task := CreateTask(KernelTask(), false)
	require.NotNil(t, task)
	assert.Equal(t, KernelTask().Map.Start, task.Map.Start)
	assert.Equal(t, KernelTask().Map.End, task.Map.End)

	_, ok := vmmap.Lookup(task.Map, task.Map.Start+0x1000)
	assert.False(t, ok, "a non-inheriting task starts with no mappings")
}

func TestCreateTaskInheritClonesMappings(t *testing.T) {
	setup(t)

	obj := vmobject.New()
	require.Equal(t, 0, int(vmmap.EnterAt(KernelTask().Map, 0x40010000, 0x1000, obj, 0, pmap.ProtRead)))

	child := CreateTask(KernelTask(), true)
	mp, ok := vmmap.Lookup(child.Map, 0x40010000)
	require.True(t, ok, "inheriting task should see the parent's mapping")
	assert.Equal(t, uint64(0x40010000), mp.Vstart)

	vmmap.Remove(KernelTask().Map, 0x40010000, 0x40011000)
}

func TestTaskSuspendResumeCascadesToThreads(t *testing.T) {
	setup(t)

	task := CreateTask(KernelTask(), false)
	th, rc := CreateThread(task, 4096, func(new, old *Thread_t) {})
	require.Equal(t, 0, rc)
	// th.suspendCnt starts at 1 (task.suspendCnt + 1 at creation time,
	// since the thread is born suspended until explicitly resumed).

	task.Suspend()
	th.lock.AcquireIrq()
	cnt := th.suspendCnt
	th.lock.ReleaseIrq()
	assert.Equal(t, 2, cnt, "task-level suspend cascades to each owned thread")

	task.Resume()
	th.lock.AcquireIrq()
	cnt = th.suspendCnt
	th.lock.ReleaseIrq()
	assert.Equal(t, 1, cnt, "task-level resume cascades back without over-resuming")
}

func TestTaskTerminateIsIdempotent(t *testing.T) {
	setup(t)

	task := CreateTask(KernelTask(), false)
	task.Terminate()
	assert.NotPanics(t, func() { task.Terminate() })
}

func TestSleepWakeRoundTrip(t *testing.T) {
	setup(t)

	event := "test-event"
	Wake(event) // waking nobody is a no-op, not an error
	WakeOne(event)
}
