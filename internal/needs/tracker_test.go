package needs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		level int
		want  Class
	}{
		{0, ClassEmpty},
		{-5, ClassEmpty},
		{1, ClassLow},
		{20, ClassLow},
		{21, ClassOk},
		{99, ClassOk},
		{100, ClassFull},
		{140, ClassFull},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, p.Classify(tc.level), "level %d", tc.level)
	}
}

func TestClassifyCustomWatermark(t *testing.T) {
	p := Policy{LowWatermark: 50}
	assert.Equal(t, ClassLow, p.Classify(50))
	assert.Equal(t, ClassOk, p.Classify(51))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 10))
	assert.Equal(t, 30, Percent(3, 10))
	assert.Equal(t, 100, Percent(10, 10))
	assert.Equal(t, 0, Percent(4, 0))
}

func TestTrackerLastWriteWins(t *testing.T) {
	tr := NewTracker(DefaultPolicy())

	assert.Equal(t, ClassEmpty, tr.Report("TYPE_A", 0))
	assert.Equal(t, ClassFull, tr.Report("TYPE_B", 100))
	assert.Equal(t, ClassOk, tr.Report("TYPE_A", 60))

	level, ok := tr.Level("TYPE_A")
	require.True(t, ok)
	assert.Equal(t, 60, level)

	class, ok := tr.Class("TYPE_B")
	require.True(t, ok)
	assert.Equal(t, ClassFull, class)

	assert.Equal(t, []string{"TYPE_A", "TYPE_B"}, tr.Types())
	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "ok", snap[0].Class)
}

func TestTrackerClampsLevels(t *testing.T) {
	tr := NewTracker(DefaultPolicy())
	tr.Report("TYPE_A", 250)
	level, _ := tr.Level("TYPE_A")
	assert.Equal(t, 100, level)

	tr.Report("TYPE_A", -3)
	level, _ = tr.Level("TYPE_A")
	assert.Equal(t, 0, level)
}

func TestTrackerUnknownType(t *testing.T) {
	tr := NewTracker(DefaultPolicy())
	class, ok := tr.Class("NOPE")
	assert.False(t, ok)
	assert.Equal(t, ClassOk, class)
}
