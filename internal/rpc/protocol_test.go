package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

func TestStructConversionKeepsComponent(t *testing.T) {
	in := DeliverRequest{Component: models.Component{
		ID:         "M1-C3",
		Type:       "TYPE_B",
		ProducedBy: "M1",
		Defective:  true,
		ProducedAt: time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC),
	}}
	s, err := toStruct(in)
	require.NoError(t, err)
	assert.Equal(t, "M1-C3", s.GetFields()["component"].GetStructValue().GetFields()["id"].GetStringValue())

	var out DeliverRequest
	require.NoError(t, fromStruct(s, &out))
	assert.Equal(t, in.Component.ID, out.Component.ID)
	assert.True(t, out.Component.Defective)
	assert.True(t, in.Component.ProducedAt.Equal(out.Component.ProducedAt))
}

func TestStructConversionKeepsIntegers(t *testing.T) {
	s, err := toStruct(StorageAlertRequest{Type: "TYPE_A", Level: 17})
	require.NoError(t, err)

	var out StorageAlertRequest
	require.NoError(t, fromStruct(s, &out))
	assert.Equal(t, 17, out.Level)
}

func TestEmptyRoundTrip(t *testing.T) {
	s, err := toStruct(&Empty{})
	require.NoError(t, err)
	assert.Empty(t, s.GetFields())
	require.NoError(t, fromStruct(s, &Empty{}))
}

func TestServiceDescCoversEveryMethod(t *testing.T) {
	names := make(map[string]bool)
	for _, m := range ServiceDesc.Methods {
		names[m.MethodName] = true
	}
	for _, want := range []string{
		"Ping", "RegisterMachine", "NotifyFailure", "NotifyRepair", "NotifyMaintenance",
		"RequestStart", "RequestStop", "GetMachineStatus", "DeliverComponent",
		"RegisterStation", "NotifyStorageAlert", "GetSystemStatus",
	} {
		assert.True(t, names[want], want)
	}
	assert.Equal(t, "/factory.v1.ProductionControl/Ping", fullMethod("Ping"))
}
