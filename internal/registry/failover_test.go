package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

func TestFailoverWithoutReplacement(t *testing.T) {
	r := New()
	mustRegister(t, r, "M1", "TYPE_A")
	require.NoError(t, r.Start("M1"))

	res, err := r.Failover("M1", "X")
	require.NoError(t, err)
	assert.False(t, res.Replaced())
	assert.Equal(t, models.StatusFailed, status(t, r, "M1"))

	_, ok := r.FindReplacement("TYPE_A", "M1")
	assert.False(t, ok)
}

func TestFailoverPicksStoppedSameType(t *testing.T) {
	r := New()
	mustRegister(t, r, "M1", "TYPE_A")
	mustRegister(t, r, "B1", "TYPE_B")
	mustRegister(t, r, "M2", "TYPE_A")
	require.NoError(t, r.Start("M1"))

	res, err := r.Failover("M1", "JAM")
	require.NoError(t, err)
	assert.Equal(t, "M2", res.Replacement)
	assert.Equal(t, models.StatusRunning, status(t, r, "M2"))
	assert.Equal(t, models.StatusStopped, status(t, r, "B1"))
}

func TestFailoverSkipsRunningCandidates(t *testing.T) {
	r := New()
	mustRegister(t, r, "M1", "TYPE_A")
	mustRegister(t, r, "M2", "TYPE_A")
	require.NoError(t, r.Start("M1"))
	require.NoError(t, r.Start("M2"))

	res, err := r.Failover("M1", "JAM")
	require.NoError(t, err)
	assert.False(t, res.Replaced())
}

func TestFindReplacementExcludesFailedAndSelf(t *testing.T) {
	r := New()
	mustRegister(t, r, "M1", "TYPE_A")
	mustRegister(t, r, "M2", "TYPE_A")
	mustRegister(t, r, "M3", "TYPE_A")
	mustRegister(t, r, "M4", "TYPE_A")
	require.NoError(t, r.Fail("M2", "X"))
	require.NoError(t, r.Maintain("M3"))

	id, ok := r.FindReplacement("TYPE_A", "M1")
	require.True(t, ok)
	assert.Equal(t, "M4", id)

	id, ok = r.FindReplacement("TYPE_A", "M4")
	require.True(t, ok)
	assert.Equal(t, "M1", id)
}

func TestFailoverUnknownMachine(t *testing.T) {
	r := New()
	_, err := r.Failover("ghost", "X")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentFailoversNeverShareReplacement(t *testing.T) {
	r := New()
	for i := 0; i < 10; i++ {
		mustRegister(t, r, fmt.Sprintf("R%d", i), "TYPE_A")
		require.NoError(t, r.Start(fmt.Sprintf("R%d", i)))
	}
	for i := 0; i < 5; i++ {
		mustRegister(t, r, fmt.Sprintf("S%d", i), "TYPE_A")
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := r.Failover(id, "X")
			if err != nil || !res.Replaced() {
				return
			}
			mu.Lock()
			seen[res.Replacement]++
			mu.Unlock()
		}(fmt.Sprintf("R%d", i))
	}
	wg.Wait()

	assert.Len(t, seen, 5)
	for id, n := range seen {
		assert.Equal(t, 1, n, "replacement %s chosen twice", id)
	}
}

func TestEnsureRunningStartsUpToLimit(t *testing.T) {
	r := New()
	mustRegister(t, r, "M1", "TYPE_A")
	mustRegister(t, r, "M2", "TYPE_A")
	mustRegister(t, r, "M3", "TYPE_A")
	require.NoError(t, r.Fail("M1", "X"))

	started := r.EnsureRunning("TYPE_A", 2)
	assert.Equal(t, []string{"M2", "M3"}, started)

	// something already runs: nothing more is started
	require.NoError(t, r.Repair("M1"))
	assert.Empty(t, r.EnsureRunning("TYPE_A", 2))
}

func TestStopRunning(t *testing.T) {
	r := New()
	mustRegister(t, r, "M1", "TYPE_A")
	mustRegister(t, r, "M2", "TYPE_A")
	mustRegister(t, r, "M3", "TYPE_A")
	require.NoError(t, r.Start("M1"))
	require.NoError(t, r.Start("M3"))
	require.NoError(t, r.Fail("M2", "X"))

	assert.Equal(t, []string{"M1", "M3"}, r.StopRunning("TYPE_A"))
	assert.Equal(t, models.StatusFailed, status(t, r, "M2"))
	assert.Zero(t, r.Count("TYPE_A", models.StatusRunning))
}
