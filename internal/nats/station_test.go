package natsclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/codec"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "factory.stations.S1.receive", ReceiveSubject("S1"))
	assert.Equal(t, "factory.stations.S1.id", IDSubject("S1"))
}

func TestReceivePayloadRoundTrip(t *testing.T) {
	in := receiveRequest{Component: models.Component{ID: "M1-C1", Type: "TYPE_A", ProducedBy: "M1"}}
	data, err := codec.Marshal(in)
	require.NoError(t, err)

	var out receiveRequest
	require.NoError(t, codec.Unmarshal(data, &out))
	assert.Equal(t, in.Component.ID, out.Component.ID)
	assert.Equal(t, in.Component.Type, out.Component.Type)

	reply, err := codec.Marshal(receiveReply{Accepted: true})
	require.NoError(t, err)
	var r receiveReply
	require.NoError(t, codec.Unmarshal(reply, &r))
	assert.True(t, r.Accepted)
	assert.Empty(t, r.Error)
}
