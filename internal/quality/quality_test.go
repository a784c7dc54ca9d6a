package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissedPollDegradation(t *testing.T) {
	e := &Entry{Code: Good}
	for i := 0; i < SuspectThreshold-1; i++ {
		e.MarkMissedPoll()
		assert.Equal(t, Good, e.Code)
	}
	e.MarkMissedPoll()
	assert.Equal(t, Suspect, e.Code)

	for e.MissedPolls < BadThreshold {
		e.MarkMissedPoll()
	}
	assert.Equal(t, Bad, e.Code)
}

func TestMarkUpdatedResetsDegradation(t *testing.T) {
	e := &Entry{Code: Bad, MissedPolls: BadThreshold}
	now := time.Now()
	e.MarkUpdated(now)
	assert.Equal(t, Good, e.Code)
	assert.Equal(t, 0, e.MissedPolls)
	assert.Equal(t, now, e.LastUpdate)
}

func TestOverflowAndUnderrangeOverrideDegradation(t *testing.T) {
	e := &Entry{Code: Suspect, MissedPolls: 5}
	e.MarkOverflow(time.Now())
	assert.Equal(t, Overflow, e.Code)

	e2 := &Entry{Code: Good}
	e2.MarkUnderrange(time.Now())
	assert.Equal(t, Underrange, e2.Code)
}

func TestMapGetCreatesGoodEntry(t *testing.T) {
	m := NewMap()
	e := m.Get(3010)
	require.NotNil(t, e)
	assert.Equal(t, Good, e.Code)

	e.MarkBad(time.Now())
	snap := m.Snapshot()
	assert.Equal(t, Bad, snap[3010])
}
