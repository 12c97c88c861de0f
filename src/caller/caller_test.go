package caller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatalPanicsWithMessageAndTrail(t *testing.T) {
	defer func() {
		r := recover()
		require := assert.New(t)
		require.NotNil(r)
		require.Contains(r.(string), "boom")
	}()
	Fatal("boom")
}

func TestDumpIncludesCallerFrame(t *testing.T) {
	s := Dump(0)
	assert.Contains(t, s, "caller_test.go")
}

func callSeenFromSameSite(dc *DistinctCaller) bool {
	return dc.Seen(0)
}

func TestDistinctCallerSeenOnceThenRepeats(t *testing.T) {
	var dc DistinctCaller
	first := callSeenFromSameSite(&dc)
	second := callSeenFromSameSite(&dc)
	assert.False(t, first)
	assert.True(t, second)
	assert.Equal(t, 1, dc.Len())
}
