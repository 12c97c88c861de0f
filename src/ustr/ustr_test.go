package ustr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsdotIsdotdot(t *testing.T) {
	assert.True(t, Ustr(".").Isdot())
	assert.True(t, Ustr("..").Isdotdot())
	assert.False(t, Ustr("...").Isdotdot())
}

func TestEq(t *testing.T) {
	assert.True(t, Ustr("abc").Eq(Ustr("abc")))
	assert.False(t, Ustr("abc").Eq(Ustr("abd")))
	assert.False(t, Ustr("abc").Eq(Ustr("ab")))
}

func TestExtendJoinsWithSlash(t *testing.T) {
	got := Ustr("foo").ExtendStr("bar")
	assert.Equal(t, "foo/bar", got.String())
}

func TestIsAbsolute(t *testing.T) {
	assert.True(t, Ustr("/a").IsAbsolute())
	assert.False(t, Ustr("a").IsAbsolute())
	assert.False(t, Ustr("").IsAbsolute())
}

func TestMkUstrSliceStopsAtNUL(t *testing.T) {
	got := MkUstrSlice([]byte{'a', 'b', 0, 'c'})
	assert.Equal(t, "ab", got.String())
}

func TestSanitizeStripsControlRunes(t *testing.T) {
	out, ok := Sanitize([]byte("abc\x00\x01def"))
	require.True(t, ok)
	assert.Equal(t, "abcdef", out.String())
}

func TestSanitizeEmptyInputYieldsEmpty(t *testing.T) {
	out, ok := Sanitize(nil)
	require.True(t, ok)
	assert.Empty(t, out)
}
