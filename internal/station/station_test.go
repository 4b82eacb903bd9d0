package station

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/needs"
)

func newTestStation(t *testing.T, capacity int) *Station {
	t.Helper()
	st, err := New("S1",
		[]ZoneConfig{{Type: "TYPE_A", Capacity: capacity}, {Type: "TYPE_B", Capacity: capacity}},
		Recipe{{Type: "TYPE_A", Quantity: 2}, {Type: "TYPE_B", Quantity: 1}},
		needs.DefaultPolicy(),
	)
	require.NoError(t, err)
	return st
}

func comp(id, typ string) models.Component {
	return models.Component{ID: id, Type: typ, ProducedBy: "M1", ProducedAt: time.Now()}
}

func TestNewValidatesConfig(t *testing.T) {
	zones := []ZoneConfig{{Type: "TYPE_A", Capacity: 5}}
	cases := map[string]struct {
		id     string
		zones  []ZoneConfig
		recipe Recipe
	}{
		"no id":          {"", zones, Recipe{{Type: "TYPE_A", Quantity: 1}}},
		"dotted id":      {"S.1", zones, Recipe{{Type: "TYPE_A", Quantity: 1}}},
		"wildcard id":    {"S*", zones, Recipe{{Type: "TYPE_A", Quantity: 1}}},
		"tail id":        {">", zones, Recipe{{Type: "TYPE_A", Quantity: 1}}},
		"spaced id":      {"S 1", zones, Recipe{{Type: "TYPE_A", Quantity: 1}}},
		"no zones":       {"S", nil, Recipe{{Type: "TYPE_A", Quantity: 1}}},
		"zero capacity":  {"S", []ZoneConfig{{Type: "TYPE_A"}}, Recipe{{Type: "TYPE_A", Quantity: 1}}},
		"duplicate zone": {"S", []ZoneConfig{{Type: "TYPE_A", Capacity: 1}, {Type: "TYPE_A", Capacity: 1}}, Recipe{{Type: "TYPE_A", Quantity: 1}}},
		"empty recipe":   {"S", zones, nil},
		"unknown type":   {"S", zones, Recipe{{Type: "TYPE_Z", Quantity: 1}}},
		"zero quantity":  {"S", zones, Recipe{{Type: "TYPE_A"}}},
		"over capacity":  {"S", zones, Recipe{{Type: "TYPE_A", Quantity: 6}}},
		"repeated type":  {"S", zones, Recipe{{Type: "TYPE_A", Quantity: 1}, {Type: "TYPE_A", Quantity: 1}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(tc.id, tc.zones, tc.recipe, needs.DefaultPolicy())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestReceiveRejections(t *testing.T) {
	st := newTestStation(t, 2)

	assert.ErrorIs(t, st.Receive(comp("X", "TYPE_Z")), ErrUnknownType)

	require.NoError(t, st.Receive(comp("A1", "TYPE_A")))
	require.NoError(t, st.Receive(comp("A2", "TYPE_A")))
	assert.ErrorIs(t, st.Receive(comp("A3", "TYPE_A")), ErrZoneFull)
	assert.Equal(t, 2, st.Occupancy()["TYPE_A"])
}

func TestAssembleRecipe(t *testing.T) {
	st := newTestStation(t, 10)

	require.NoError(t, st.Receive(comp("A1", "TYPE_A")))
	require.NoError(t, st.Receive(comp("B1", "TYPE_B")))

	before := st.Occupancy()
	_, ok := st.TryAssemble()
	assert.False(t, ok)
	assert.Equal(t, before, st.Occupancy(), "short recipe must not touch zones")

	require.NoError(t, st.Receive(comp("A2", "TYPE_A")))
	p, ok := st.TryAssemble()
	require.True(t, ok)

	assert.Equal(t, "S1-P1", p.ID)
	assert.True(t, p.Complete())
	assert.Equal(t, map[string]int{"TYPE_A": 2, "TYPE_B": 1}, p.CountByType())
	assert.Equal(t, map[string]int{"TYPE_A": 0, "TYPE_B": 0}, st.Occupancy())
	assert.EqualValues(t, 1, st.Assembled())
}

func TestAssembleConsumesOldestFirst(t *testing.T) {
	st := newTestStation(t, 10)
	for i := 1; i <= 3; i++ {
		require.NoError(t, st.Receive(comp(fmt.Sprintf("A%d", i), "TYPE_A")))
	}
	require.NoError(t, st.Receive(comp("B1", "TYPE_B")))

	p, ok := st.TryAssemble()
	require.True(t, ok)
	require.Len(t, p.Components, 3)
	assert.Equal(t, "A1", p.Components[0].ID)
	assert.Equal(t, "A2", p.Components[1].ID)
	assert.Equal(t, "B1", p.Components[2].ID)
	assert.Equal(t, 1, st.Occupancy()["TYPE_A"])
}

func TestLevels(t *testing.T) {
	st := newTestStation(t, 10)
	require.NoError(t, st.Receive(comp("A1", "TYPE_A")))

	levels := st.Levels()
	require.Len(t, levels, 2)
	assert.Equal(t, Level{Type: "TYPE_A", Count: 1, Capacity: 10, Percent: 10, Class: "low"}, levels[0])
	assert.Equal(t, "empty", levels[1].Class)
}

func TestConcurrentReceiveAndAssembleKeepBounds(t *testing.T) {
	st := newTestStation(t, 5)
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := map[string]int{}

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			typ := "TYPE_A"
			if i%3 == 0 {
				typ = "TYPE_B"
			}
			if st.Receive(comp(fmt.Sprintf("C%d", i), typ)) == nil {
				mu.Lock()
				accepted[typ]++
				mu.Unlock()
			}
		}(i)
		go func() {
			defer wg.Done()
			st.TryAssemble()
			for _, n := range st.Occupancy() {
				assert.GreaterOrEqual(t, n, 0)
				assert.LessOrEqual(t, n, 5)
			}
		}()
	}
	wg.Wait()

	built := int(st.Assembled())
	occ := st.Occupancy()
	assert.Equal(t, accepted["TYPE_A"], occ["TYPE_A"]+2*built)
	assert.Equal(t, accepted["TYPE_B"], occ["TYPE_B"]+built)
}

func TestValidID(t *testing.T) {
	for _, id := range []string{"S1", "station-north", "S_2"} {
		assert.True(t, ValidID(id), id)
	}
	for _, id := range []string{"", "a.b", "a*", "a>", "a b", "a\tb", "a\nb"} {
		assert.False(t, ValidID(id), id)
	}
}

func TestResumeContinuesNumbering(t *testing.T) {
	st := newTestStation(t, 10)
	st.Resume([]models.Product{
		{ID: "S1-P4", StationID: "S1"},
		{ID: "S1-P9", StationID: "S1"},
		{ID: "S2-P50", StationID: "S2"},
		{ID: "S1-manual", StationID: "S1"},
	})
	assert.Equal(t, int64(9), st.Assembled())

	require.NoError(t, st.Receive(comp("A1", "TYPE_A")))
	require.NoError(t, st.Receive(comp("A2", "TYPE_A")))
	require.NoError(t, st.Receive(comp("B1", "TYPE_B")))
	p, ok := st.TryAssemble()
	require.True(t, ok)
	assert.Equal(t, "S1-P10", p.ID)

	st.Resume([]models.Product{{ID: "S1-P3", StationID: "S1"}})
	assert.Equal(t, int64(10), st.Assembled())
}
