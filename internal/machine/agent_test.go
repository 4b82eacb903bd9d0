package machine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

type fakeControl struct {
	mu            sync.Mutex
	registerErrs  int
	refuse        bool
	registered    int
	status        string
	accept        bool
	delivered     []models.Component
	failures      []string
	failureReply  string
	repairAllowed bool
}

func (f *fakeControl) RegisterMachine(_ context.Context, id, machineType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErrs > 0 {
		f.registerErrs--
		return false, errors.New("connection refused")
	}
	if f.refuse {
		return false, nil
	}
	f.registered++
	return true, nil
}

func (f *fakeControl) GetMachineStatus(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeControl) DeliverComponent(_ context.Context, c models.Component) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, c)
	return f.accept && !c.Defective, nil
}

func (f *fakeControl) NotifyFailure(_ context.Context, id, errorType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errorType)
	f.status = "FAILED"
	if f.failureReply == "" {
		return "NO_REPLACEMENT", nil
	}
	return f.failureReply, nil
}

func (f *fakeControl) NotifyRepair(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.repairAllowed {
		return false, nil
	}
	f.status = "STOPPED"
	return true, nil
}

func (f *fakeControl) setStatus(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func seeded() Option {
	return WithRand(rand.New(rand.NewPCG(1, 2)))
}

func newAgent(ctl Control, defect, failure float64) *Agent {
	return New(Config{ID: "M1", Type: "TYPE_A", DefectRate: defect, FailureRate: failure}, ctl, nil, seeded())
}

func TestRegisterRetriesTransportErrors(t *testing.T) {
	ctl := &fakeControl{registerErrs: 2, status: "STOPPED"}
	a := New(Config{ID: "M1", Type: "TYPE_A", RegisterTimeout: 10 * time.Second}, ctl, nil, seeded())

	require.NoError(t, a.Register(context.Background()))
	assert.Equal(t, 1, ctl.registered)
}

func TestRegisterRefusalIsPermanent(t *testing.T) {
	ctl := &fakeControl{refuse: true}
	a := newAgent(ctl, 0, 0)

	err := a.Register(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistrationRefused)
}

func TestProducesOnlyWhileRunning(t *testing.T) {
	ctl := &fakeControl{status: "STOPPED", accept: true}
	a := newAgent(ctl, 0, 0)
	ctx := context.Background()

	a.PollStatus(ctx)
	_, made := a.Produce(ctx)
	assert.False(t, made)

	ctl.setStatus("RUNNING")
	a.PollStatus(ctx)
	c, made := a.Produce(ctx)
	require.True(t, made)
	assert.Equal(t, "M1-C1", c.ID)
	assert.Equal(t, "TYPE_A", c.Type)
	assert.Equal(t, "M1", c.ProducedBy)
	assert.False(t, c.Defective)

	c, _ = a.Produce(ctx)
	assert.Equal(t, "M1-C2", c.ID)
	made2, accepted := a.Produced()
	assert.EqualValues(t, 2, made2)
	assert.EqualValues(t, 2, accepted)
}

func TestDefectRateOneMarksEverything(t *testing.T) {
	ctl := &fakeControl{status: "RUNNING", accept: true}
	a := newAgent(ctl, 1, 0)
	ctx := context.Background()
	a.PollStatus(ctx)

	c, made := a.Produce(ctx)
	require.True(t, made)
	assert.True(t, c.Defective)
	_, accepted := a.Produced()
	assert.Zero(t, accepted)
}

func TestAutoFailureBlocksUntilRepair(t *testing.T) {
	ctl := &fakeControl{status: "RUNNING", accept: true, failureReply: "REPLACED_BY:M2"}
	a := newAgent(ctl, 0, 1)
	ctx := context.Background()
	a.PollStatus(ctx)

	_, made := a.Produce(ctx)
	require.True(t, made)
	require.Equal(t, []string{AutoFailure}, ctl.failures)

	st, failed := a.Status()
	assert.Equal(t, models.StatusFailed, st)
	assert.True(t, failed)

	a.PollStatus(ctx)
	_, made = a.Produce(ctx)
	assert.False(t, made)

	assert.Error(t, a.Repair(ctx), "controller refuses")
	ctl.mu.Lock()
	ctl.repairAllowed = true
	ctl.mu.Unlock()
	require.NoError(t, a.Repair(ctx))
	assert.ErrorIs(t, a.Repair(ctx), ErrNotFailed)

	ctl.setStatus("RUNNING")
	a.PollStatus(ctx)
	a.cfg.FailureRate = 0
	_, made = a.Produce(ctx)
	assert.True(t, made)
}

func TestRepairThroughControllerUnblocks(t *testing.T) {
	ctl := &fakeControl{status: "RUNNING", accept: true}
	a := newAgent(ctl, 0, 0)
	ctx := context.Background()
	a.PollStatus(ctx)

	reply, err := a.Fail(ctx, "JAM")
	require.NoError(t, err)
	assert.Equal(t, "NO_REPLACEMENT", reply)

	a.PollStatus(ctx)
	_, failed := a.Status()
	require.True(t, failed)

	// an operator repaired it and the controller restarted it
	ctl.setStatus("RUNNING")
	a.PollStatus(ctx)
	st, failed := a.Status()
	assert.Equal(t, models.StatusRunning, st)
	assert.False(t, failed)
	_, made := a.Produce(ctx)
	assert.True(t, made)
}

func TestStalePollDoesNotClearUnreportedFailure(t *testing.T) {
	ctl := &fakeControl{status: "RUNNING"}
	a := newAgent(ctl, 0, 0)
	a.mu.Lock()
	a.status, a.failed, a.failureSeen = models.StatusFailed, true, false
	a.mu.Unlock()

	a.PollStatus(context.Background())
	_, failed := a.Status()
	assert.True(t, failed)
}

func TestStartRunsBackgroundLoops(t *testing.T) {
	ctl := &fakeControl{status: "RUNNING", accept: true}
	a := New(Config{
		ID:                 "M1",
		Type:               "TYPE_A",
		ProductionInterval: 10 * time.Millisecond,
		StatusInterval:     5 * time.Millisecond,
	}, ctl, nil, seeded())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	require.Eventually(t, func() bool {
		made, _ := a.Produced()
		return made >= 2
	}, 2*time.Second, 5*time.Millisecond)
	a.Stop()

	made, _ := a.Produced()
	time.Sleep(30 * time.Millisecond)
	after, _ := a.Produced()
	assert.Equal(t, made, after)
}
