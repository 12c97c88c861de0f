package usertable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablekernel/src/defs"
	"tablekernel/src/object"
	"tablekernel/src/streamtable"
	"tablekernel/src/table"
)

type fakeWaker struct{}

func (fakeWaker) WakeUp() {}

// srv plays the userspace table server at the wire level: it pops
// submission records off the shared ring, services them against an
// in-memory byte store, and pushes completion records back. The request
// slice (Arg0) belongs to the kernel side and is freed there, so srv never
// frees it.
type srv struct {
	c     *Conn
	data  map[uint32][]byte
	pos   map[uint32]int
	paths map[string]uint32
	nextH uint32
}

func newSrv(c *Conn) *srv {
	return &srv{
		c:     c,
		data:  make(map[uint32][]byte),
		pos:   make(map[uint32]int),
		paths: make(map[string]uint32),
		nextH: 1,
	}
}

func (s *srv) serveOne(t *testing.T) bool {
	rec, ok := s.c.Buf.Submission.Pop()
	if !ok {
		return false
	}
	var out streamtable.Record
	switch defs.JobKind(rec.Kind) {
	case defs.JobOpen, defs.JobCreate:
		path := make([]byte, rec.Arg0.Length)
		s.c.Buf.CopyOut(rec.Arg0, 0, path)
		h, exists := s.paths[string(path)]
		if !exists {
			if defs.JobKind(rec.Kind) == defs.JobOpen {
				out = CompleteErr(rec, defs.EDoesNotExist)
				break
			}
			h = s.nextH
			s.nextH++
			s.paths[string(path)] = h
		}
		out = CompleteValue(rec, uint64(h))
	case defs.JobWrite:
		buf := make([]byte, rec.Arg0.Length)
		n := s.c.Buf.CopyOut(rec.Arg0, 0, buf)
		s.data[rec.Handle] = append(s.data[rec.Handle], buf[:n]...)
		out = CompleteValue(rec, uint64(n))
	case defs.JobRead, defs.JobPeek:
		want := int(rec.Arg0.Length)
		stored := s.data[rec.Handle]
		p := s.pos[rec.Handle]
		if p > len(stored) {
			p = len(stored)
		}
		if want > len(stored)-p {
			want = len(stored) - p
		}
		payload := stored[p : p+want]
		if defs.JobKind(rec.Kind) == defs.JobRead {
			s.pos[rec.Handle] = p + want
		}
		var okc bool
		out, okc = CompleteBytes(s.c.Buf, rec, payload)
		require.True(t, okc)
	case defs.JobSeek:
		switch defs.SeekAnchor(rec.FromAnchor) {
		case defs.SeekStart:
			s.pos[rec.Handle] = int(rec.FromOffset)
		case defs.SeekCurrent:
			s.pos[rec.Handle] += int(rec.FromOffset)
		case defs.SeekEnd:
			s.pos[rec.Handle] = len(s.data[rec.Handle]) + int(rec.FromOffset)
		}
		out = CompleteValue(rec, uint64(s.pos[rec.Handle]))
	case defs.JobClose:
		delete(s.data, rec.Handle)
		delete(s.pos, rec.Handle)
		out = CompleteValue(rec, 0)
	default:
		out = CompleteErr(rec, defs.ENotImplemented)
	}
	require.True(t, s.c.Buf.Completion.Push(out))
	return true
}

// pumpAll services every queued submission and drains the completions,
// standing in for one take_job/finish_job turn of the server loop.
func (s *srv) pumpAll(t *testing.T) {
	for s.serveOne(t) {
	}
	s.c.Pump()
}

func newConn(t *testing.T) (*Conn, *srv) {
	r := table.NewRegistry()
	tb, errk := r.Register("fs", []string{"test"}, nil, false)
	require.Equal(t, defs.EOK, errk)
	c := New(tb, streamtable.New(16, 256, 64))
	return c, newSrv(c)
}

func TestCreateWriteSeekReadThroughServer(t *testing.T) {
	c, s := newConn(t)
	root := c.Root("fs")

	ctk := root.Create([]byte("log"))
	s.pumpAll(t)
	cres := ctk.Wait(fakeWaker{})
	require.Equal(t, defs.EOK, cres.Err)
	obj := cres.Value

	wtk := obj.Write(object.Bytes("hello"))
	s.pumpAll(t)
	wres := wtk.Wait(fakeWaker{})
	require.Equal(t, defs.EOK, wres.Err)
	assert.EqualValues(t, 5, wres.Value)

	stk := obj.Seek(object.From{Anchor: defs.SeekStart, Offset: 0})
	s.pumpAll(t)
	sres := stk.Wait(fakeWaker{})
	require.Equal(t, defs.EOK, sres.Err)

	rtk := obj.Read(5, false)
	s.pumpAll(t)
	rres := rtk.Wait(fakeWaker{})
	require.Equal(t, defs.EOK, rres.Err)
	assert.Equal(t, object.Bytes("hello"), rres.Value)
}

func TestOpenMissingPathFailsDoesNotExist(t *testing.T) {
	c, s := newConn(t)
	tk := c.Root("fs").Open([]byte("nope"))
	s.pumpAll(t)
	res := tk.Wait(fakeWaker{})
	assert.Equal(t, defs.EDoesNotExist, res.Err)
}

func TestOpenEmptyPathFailsSynchronously(t *testing.T) {
	c, _ := newConn(t)
	res, done := c.Root("fs").Open(nil).Ready()
	require.True(t, done)
	assert.Equal(t, defs.EInvalidArg, res.Err)
}

func TestPayloadBlocksReturnToFreeStack(t *testing.T) {
	c, s := newConn(t)
	initial := c.Buf.FreeCount()

	ctk := c.Root("fs").Create([]byte("f"))
	s.pumpAll(t)
	obj := ctk.Wait(fakeWaker{}).Value

	big := make([]byte, 600) // forces a scatter-gather chain both ways
	wtk := obj.Write(big)
	s.pumpAll(t)
	require.Equal(t, defs.EOK, wtk.Wait(fakeWaker{}).Err)

	stk := obj.Seek(object.From{Anchor: defs.SeekStart})
	s.pumpAll(t)
	require.Equal(t, defs.EOK, stk.Wait(fakeWaker{}).Err)

	rtk := obj.Read(600, false)
	s.pumpAll(t)
	require.Equal(t, defs.EOK, rtk.Wait(fakeWaker{}).Err)

	assert.Equal(t, initial, c.Buf.FreeCount())
}

// TestServerDropCancelsOutstandingRead drives §4.3's server-loss path: a
// read is in flight, the server side goes away, and the client's ticket
// observes Cancelled without any completion record arriving.
func TestServerDropCancelsOutstandingRead(t *testing.T) {
	c, s := newConn(t)
	ctk := c.Root("fs").Create([]byte("f"))
	s.pumpAll(t)
	obj := ctk.Wait(fakeWaker{}).Value

	rtk := obj.Read(1, false)
	_, done := rtk.Ready()
	require.False(t, done)

	failed := c.Shutdown()
	assert.Equal(t, 1, failed)

	res := rtk.Wait(fakeWaker{})
	assert.Equal(t, defs.ECancelled, res.Err)
}

func TestRegisterRoutesRootThroughConn(t *testing.T) {
	r := table.NewRegistry()
	buf := streamtable.New(16, 256, 64)
	c, errk := Register(r, "blk", []string{"block"}, buf)
	require.Equal(t, defs.EOK, errk)
	s := newSrv(c)

	tk := c.Table.Root().Create([]byte("disk0"))
	s.pumpAll(t)
	res := tk.Wait(fakeWaker{})
	assert.Equal(t, defs.EOK, res.Err)
	assert.NotNil(t, res.Value)
}

func TestPollAndShareAreNotImplementedOnWire(t *testing.T) {
	c, _ := newConn(t)
	obj := c.Object(1, "x")
	res, done := obj.Poll().Ready()
	require.True(t, done)
	assert.Equal(t, defs.ENotImplemented, res.Err)
}
