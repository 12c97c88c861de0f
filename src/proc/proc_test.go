package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablekernel/src/aspace"
	"tablekernel/src/defs"
	"tablekernel/src/frame"
	"tablekernel/src/memobj"
	"tablekernel/src/object"
	"tablekernel/src/sched"
	"tablekernel/src/table"
)

func newProc(t *testing.T) *Process {
	as := aspace.New(aspace.SoftwareArch{}, 0, 1<<30)
	return New(1, as, sched.New())
}

func TestAddHandleCloseHandleRoundTrip(t *testing.T) {
	p := newProc(t)
	obj := &object.Object{Name: "x"}

	h, errKind := p.AddHandle(obj)
	require.Equal(t, defs.EOK, errKind)

	got, ok := p.Handle(h)
	require.True(t, ok)
	assert.Same(t, obj, got)

	require.True(t, p.CloseHandle(h))
	_, ok = p.Handle(h)
	assert.False(t, ok)
}

func TestCloseUnknownHandleReportsFalse(t *testing.T) {
	p := newProc(t)
	assert.False(t, p.CloseHandle(999))
}

func TestNewThreadIncrementsThreadCount(t *testing.T) {
	p := newProc(t)
	assert.Equal(t, 0, p.ThreadCount())
	th := p.NewThread("main", 0x1000, 0x8000)
	assert.Equal(t, 1, p.ThreadCount())
	assert.Equal(t, p.Pid, th.Pid)
}

func TestDestroyThreadDropsFromProcessAndScheduler(t *testing.T) {
	p := newProc(t)
	th := p.NewThread("main", 0, 0)
	p.DestroyThread(th.Tid)
	assert.Equal(t, 0, p.ThreadCount())
	assert.Equal(t, 0, p.Sched.Count())
}

func TestTeardownDestroysThreadsAndDropsHandles(t *testing.T) {
	p := newProc(t)
	p.NewThread("a", 0, 0)
	p.NewThread("b", 0, 0)
	h, _ := p.AddHandle(&object.Object{})

	p.Teardown()

	assert.Equal(t, 0, p.ThreadCount())
	_, ok := p.Handle(h)
	assert.False(t, ok)
}

func TestOwnTableIsLookupableById(t *testing.T) {
	p := newProc(t)
	r := table.NewRegistry()
	tb, errKind := r.Register("disk", nil, nil, false)
	require.Equal(t, defs.EOK, errKind)

	p.OwnTable(tb)
	got, ok := p.OwnedTable(tb.ID)
	require.True(t, ok)
	assert.Same(t, tb, got)
}

// TestFromImageSeedsEntryAndStack drives the driver-boot scenario: a loaded
// image plus a one-page stack object yields a process whose single thread
// starts at the image's entry with its stack pointer inside the stack
// mapping.
func TestFromImageSeedsEntryAndStack(t *testing.T) {
	as := aspace.New(aspace.SoftwareArch{}, 0, 1<<30)
	alloc := frame.New(frame.NewBacking(8), 8, 1)
	img := memobj.NewDriverImage(0, 4)
	stack, err := memobj.NewOwnedFrames(alloc, 1, frame.Hints{})
	require.NoError(t, err)

	const entryOffset = 0x40
	p, th, err := FromImage(7, as, sched.New(), img, entryOffset, stack)
	require.NoError(t, err)
	assert.Equal(t, 1, p.ThreadCount())

	ms := as.Mappings()
	require.Len(t, ms, 2)
	imgMap, stkMap := ms[0], ms[1]
	assert.EqualValues(t, uint64(imgMap.Range.Start)+entryOffset, th.Frame.Entry)
	assert.Greater(t, uint64(th.Frame.UserSP), uint64(stkMap.Range.Start))
	assert.LessOrEqual(t, uint64(th.Frame.UserSP), uint64(stkMap.Range.End))
}

func TestFromImageRejectsEntryPastImage(t *testing.T) {
	as := aspace.New(aspace.SoftwareArch{}, 0, 1<<30)
	img := memobj.NewDriverImage(0, 1)
	stack := memobj.NewDeviceFrames(4, 1)
	_, _, err := FromImage(7, as, sched.New(), img, 2*frame.PageSize, stack)
	assert.Error(t, err)
}

func TestHandleBudgetIsPerProcess(t *testing.T) {
	p1, p2 := newProc(t), newProc(t)
	budget := p1.handleLimit.Remaining()
	for i := int64(0); i < budget; i++ {
		_, errKind := p1.AddHandle(&object.Object{})
		require.Equal(t, defs.EOK, errKind)
	}
	_, errKind := p1.AddHandle(&object.Object{})
	assert.Equal(t, defs.EOutOfMemory, errKind)

	// p1 exhausting its own budget must not starve p2.
	_, errKind = p2.AddHandle(&object.Object{})
	assert.Equal(t, defs.EOK, errKind)
}

func TestTeardownReturnsHandleBudget(t *testing.T) {
	p := newProc(t)
	before := p.handleLimit.Remaining()
	for i := 0; i < 5; i++ {
		_, _ = p.AddHandle(&object.Object{})
	}
	p.Teardown()
	assert.Equal(t, before, p.handleLimit.Remaining())
}
