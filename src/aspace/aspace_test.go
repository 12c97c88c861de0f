package aspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablekernel/src/defs"
	"tablekernel/src/memobj"
)

func obj(npages int) memobj.MemoryObject {
	return memobj.NewDeviceFrames(0, npages)
}

func TestMapObjectAutoPlacesWithGuardPage(t *testing.T) {
	as := New(SoftwareArch{}, 0, 1<<30)

	aStart, aLen, err := as.MapObject(nil, obj(4), defs.R|defs.W, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 4*pageSize, aLen)

	bStart, _, err := as.MapObject(nil, obj(2), defs.R|defs.W, 0, 0)
	require.NoError(t, err)

	// scenario 4: B.start == A.end + 2*page_size (guard page on each side of
	// the cursor search, matching "one guard page separates consecutive
	// objects").
	assert.Equal(t, aStart+VAddr(aLen)+VAddr(pageSize), bStart)
}

func TestMapObjectZeroSizeFails(t *testing.T) {
	as := New(SoftwareArch{}, 0, 1<<30)
	_, _, err := as.MapObject(nil, obj(0), defs.R, 0, 0)
	assert.Equal(t, ErrZeroSize, err)
}

func TestMapObjectUnalignedOffsetFails(t *testing.T) {
	as := New(SoftwareArch{}, 0, 1<<30)
	_, _, err := as.MapObject(nil, obj(4), defs.R, 1, 0)
	assert.Equal(t, ErrUnalignedOffset, err)
}

func TestMappingsStaySortedAndNonOverlapping(t *testing.T) {
	as := New(SoftwareArch{}, 0, 1<<30)
	for i := 0; i < 5; i++ {
		_, _, err := as.MapObject(nil, obj(i+1), defs.R, 0, 0)
		require.NoError(t, err)
	}
	ms := as.Mappings()
	for i := 1; i < len(ms); i++ {
		assert.Less(t, ms[i-1].Range.End, ms[i].Range.Start)
	}
}

func TestUnmapExactRangeRemovesEntry(t *testing.T) {
	as := New(SoftwareArch{}, 0, 1<<30)
	start, length, err := as.MapObject(nil, obj(4), defs.R, 0, 0)
	require.NoError(t, err)

	err = as.UnmapObject(start, int(length/pageSize))
	require.NoError(t, err)
	assert.Empty(t, as.Mappings())
}

func TestUnmapMiddleRangeUnsupported(t *testing.T) {
	as := New(SoftwareArch{}, 0, 1<<30)
	bStart, _, err := as.MapObject(nil, obj(4), defs.R, 0, 0)
	require.NoError(t, err)

	// an interior range (touching neither edge of the 4-page mapping) is
	// neither a front nor a back truncation, so it must fail
	// PartialUnmapUnsupported (§4.2, scenario 4).
	err = as.UnmapObject(bStart+VAddr(pageSize), 2)
	assert.Equal(t, ErrPartialUnmapUnsupported, err)
}

func TestUnmapFrontTruncationShrinksRange(t *testing.T) {
	as := New(SoftwareArch{}, 0, 1<<30)
	start, _, err := as.MapObject(nil, obj(4), defs.R, 0, 0)
	require.NoError(t, err)

	require.NoError(t, as.UnmapObject(start, 2))
	ms := as.Mappings()
	require.Len(t, ms, 1)
	assert.Equal(t, start+VAddr(2*pageSize), ms[0].Range.Start)
}

func TestIdentityMapRequiresPageAlignedSize(t *testing.T) {
	as := New(SoftwareArch{}, 0, 1<<30)
	err := as.IdentityMap(0, pageSize+1)
	assert.Equal(t, ErrUnalignedOffset, err)
}

type recordingArch struct {
	SoftwareArch
	activated int
	defaulted int
}

func (a *recordingArch) Activate()        { a.activated++ }
func (a *recordingArch) ActivateDefault() { a.defaulted++ }

func TestActivateAndActivateDefaultReachArch(t *testing.T) {
	ar := &recordingArch{}
	as := New(ar, 0, 1<<30)
	as.Activate()
	as.ActivateDefault()
	assert.Equal(t, 1, ar.activated)
	assert.Equal(t, 1, ar.defaulted)
}

func TestLookupFindsContainingMapping(t *testing.T) {
	as := New(SoftwareArch{}, 0, 1<<30)
	start, length, err := as.MapObject(nil, obj(4), defs.R, 0, 0)
	require.NoError(t, err)

	m, ok := as.Lookup(start + VAddr(length) - 1)
	require.True(t, ok)
	assert.Equal(t, start, m.Range.Start)

	_, ok = as.Lookup(start + VAddr(length))
	assert.False(t, ok)
}
