package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

type fakeStation struct {
	id     string
	accept bool
	err    error
	delay  time.Duration

	mu       sync.Mutex
	calls    int
	received []models.Component
}

func (f *fakeStation) ID() string { return f.id }

func (f *fakeStation) ReceiveComponent(ctx context.Context, c models.Component) (bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		// ignores ctx on purpose to model an unresponsive station
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return false, f.err
	}
	if !f.accept {
		return false, nil
	}
	f.mu.Lock()
	f.received = append(f.received, c)
	f.mu.Unlock()
	return true, nil
}

func (f *fakeStation) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func component(id string) models.Component {
	return models.Component{ID: id, Type: "TYPE_A", ProducedBy: "M1", ProducedAt: time.Now()}
}

func TestDefectiveNeverContactsStations(t *testing.T) {
	d := New(time.Second, nil)
	s := &fakeStation{id: "S1", accept: true}
	d.Register("S1", s)

	c := component("C1")
	c.Defective = true
	res := d.Deliver(context.Background(), c)

	assert.Equal(t, OutcomeDefective, res.Outcome)
	assert.False(t, res.Accepted())
	assert.Zero(t, s.callCount())
}

func TestFirstAcceptingStationWins(t *testing.T) {
	d := New(time.Second, nil)
	full := &fakeStation{id: "S1", accept: false}
	open := &fakeStation{id: "S2", accept: true}
	spare := &fakeStation{id: "S3", accept: true}
	d.Register("S1", full)
	d.Register("S2", open)
	d.Register("S3", spare)

	res := d.Deliver(context.Background(), component("C1"))

	assert.True(t, res.Accepted())
	assert.Equal(t, "S2", res.StationID)
	assert.Equal(t, 2, res.Attempts)
	assert.Empty(t, full.received)
	assert.Len(t, open.received, 1)
	assert.Zero(t, spare.callCount())
}

func TestAllStationsReject(t *testing.T) {
	d := New(time.Second, nil)
	d.Register("S1", &fakeStation{id: "S1"})
	d.Register("S2", &fakeStation{id: "S2", err: errors.New("connection refused")})

	res := d.Deliver(context.Background(), component("C1"))
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
}

func TestUnreachableStationIsSkipped(t *testing.T) {
	d := New(time.Second, nil)
	d.Register("S1", &fakeStation{id: "S1", err: errors.New("no responders")})
	d.Register("S2", &fakeStation{id: "S2", accept: true})

	res := d.Deliver(context.Background(), component("C1"))
	assert.True(t, res.Accepted())
	assert.Equal(t, "S2", res.StationID)
}

func TestNoStations(t *testing.T) {
	d := New(time.Second, nil)
	res := d.Deliver(context.Background(), component("C1"))
	assert.Equal(t, OutcomeNoStations, res.Outcome)
}

func TestSlowStationTimesOut(t *testing.T) {
	d := New(30*time.Millisecond, nil)
	slow := &fakeStation{id: "S1", accept: true, delay: 500 * time.Millisecond}
	d.Register("S1", slow)

	start := time.Now()
	res := d.Deliver(context.Background(), component("C1"))

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestRegisterKeepsOrderAndReplaces(t *testing.T) {
	d := New(0, nil)
	assert.Equal(t, DefaultTimeout, d.Timeout())

	assert.False(t, d.Register("S1", &fakeStation{id: "S1"}))
	assert.False(t, d.Register("S2", &fakeStation{id: "S2"}))
	assert.True(t, d.Register("S1", &fakeStation{id: "S1", accept: true}))
	assert.Equal(t, []string{"S1", "S2"}, d.Stations())

	res := d.Deliver(context.Background(), component("C1"))
	assert.Equal(t, "S1", res.StationID)

	assert.True(t, d.Unregister("S1"))
	assert.False(t, d.Unregister("S1"))
	assert.Equal(t, []string{"S2"}, d.Stations())
}
