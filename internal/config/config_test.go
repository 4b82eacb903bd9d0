package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	assert.NoError(t, DefaultController().Validate())
	assert.NoError(t, DefaultStation().Validate())

	m := DefaultMachine()
	m.Machine.ID = "M1"
	m.Machine.Type = "TYPE_A"
	assert.NoError(t, m.Validate())
}

func TestLoadControllerOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
grpc_addr: ":6000"
reconcile_interval: 3s
start_batch: 1
policy:
  low_watermark: 50
`)
	cfg := DefaultController()
	require.NoError(t, Load(path, &cfg))

	assert.Equal(t, ":6000", cfg.GRPCAddr)
	assert.Equal(t, 3*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 1, cfg.StartBatch)
	assert.Equal(t, 50, cfg.Policy.LowWatermark)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	require.NoError(t, cfg.Validate())

	sc := cfg.ServerConfig()
	assert.Equal(t, 1, sc.StartBatch)
	assert.Equal(t, 50, sc.Policy.LowWatermark)
}

func TestLoadStation(t *testing.T) {
	path := writeFile(t, `
id: S7
zones:
  - {type: TYPE_X, capacity: 3}
recipe:
  - {type: TYPE_X, quantity: 3}
`)
	cfg := DefaultStation()
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, "S7", cfg.ID)
	require.Len(t, cfg.Zones, 1)
	assert.Equal(t, 3, cfg.Zones[0].Capacity)
	assert.NoError(t, cfg.Validate())
}

func TestStationRecipeMustFitZones(t *testing.T) {
	cfg := DefaultStation()
	cfg.Recipe = append(cfg.Recipe, cfg.Recipe[0])
	cfg.Recipe[2].Type = "TYPE_Z"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestStationIDMustBeSubjectToken(t *testing.T) {
	for _, id := range []string{"S.1", "S*", "S>", "S 1"} {
		cfg := DefaultStation()
		cfg.ID = id
		err := cfg.Validate()
		require.ErrorIs(t, err, ErrInvalid, id)
		assert.Contains(t, err.Error(), "must not contain", id)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Controller{}
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	msg := err.Error()
	assert.Contains(t, msg, "grpc_addr")
	assert.Contains(t, msg, "start_batch")
	assert.Contains(t, msg, "low_watermark")
}

func TestMachineRatesBounded(t *testing.T) {
	m := DefaultMachine()
	m.Machine.ID, m.Machine.Type = "M1", "TYPE_A"
	m.Machine.DefectRate = 1.5
	assert.ErrorIs(t, m.Validate(), ErrInvalid)
}

func TestLoadMissingFile(t *testing.T) {
	cfg := DefaultController()
	assert.Error(t, Load(filepath.Join(t.TempDir(), "nope.yaml"), &cfg))
	assert.NoError(t, Load("", &cfg))
}
