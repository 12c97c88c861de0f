package accnt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddRunAndBlockAccumulate(t *testing.T) {
	var a Accnt_t
	a.AddRun(10 * time.Millisecond)
	a.AddRun(5 * time.Millisecond)
	a.AddBlock(2 * time.Millisecond)

	snap := a.Fetch()
	assert.Equal(t, 15*time.Millisecond, snap.Run)
	assert.Equal(t, 2*time.Millisecond, snap.Block)
}

func TestAddMergesAnotherAccntsCounters(t *testing.T) {
	var total, child Accnt_t
	child.AddRun(3 * time.Millisecond)
	child.AddBlock(1 * time.Millisecond)
	total.AddRun(1 * time.Millisecond)

	total.Add(&child)

	snap := total.Fetch()
	assert.Equal(t, 4*time.Millisecond, snap.Run)
	assert.Equal(t, 1*time.Millisecond, snap.Block)
}
