package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablekernel/src/defs"
	"tablekernel/src/ticket"
)

func TestUnsupportedOperationReturnsNotImplemented(t *testing.T) {
	o := &Object{}
	assert.Equal(t, Cap(0), o.Caps())

	res, done := o.Read(10, false).Ready()
	require.True(t, done)
	assert.Equal(t, defs.ENotImplemented, res.Err)

	_, done = o.Write(Bytes("x")).Ready()
	require.True(t, done)

	_, done = o.Open([]byte("a")).Ready()
	require.True(t, done)

	_, err := o.Map(0, 0, 0)
	assert.Equal(t, defs.ENotImplemented, err)
}

func TestCapsReflectsOnlySetFields(t *testing.T) {
	o := &Object{
		ReadFn: func(int, bool) ticket.Ticket[Bytes] {
			return ticket.NewComplete(ticket.Ok(Bytes("hi")))
		},
		SeekFn: func(From) ticket.Ticket[uint64] {
			return ticket.NewComplete(ticket.Ok[uint64](0))
		},
	}
	c := o.Caps()
	assert.True(t, c&CapRead != 0)
	assert.True(t, c&CapSeek != 0)
	assert.False(t, c&CapWrite != 0)
	assert.False(t, c&CapOpen != 0)
}

func TestReadDispatchesToReadFn(t *testing.T) {
	o := &Object{ReadFn: func(n int, peek bool) ticket.Ticket[Bytes] {
		return ticket.NewComplete(ticket.Ok(Bytes("abc")[:n]))
	}}
	res, _ := o.Read(2, false).Ready()
	assert.Equal(t, Bytes("ab"), res.Value)
}
