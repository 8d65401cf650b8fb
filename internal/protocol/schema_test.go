package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_AcceptsSamples(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	require.NoError(t, v.Validate(TypeWelcome, []byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "agent_id":"A1",
	  "resume_token":"resume_world_1_123",
	  "world_params":{"tick_rate_hz":5,"height":1,"obs_radius":7,"seed":1337}
	}`)))

	require.NoError(t, v.Validate(TypeObs, []byte(`{
	  "type":"OBS",
	  "protocol_version":"1.0",
	  "tick":12,
	  "agent_id":"A1",
	  "self":{"pos":[0,0,0],"yaw":0,"hp":20,"hunger":20,"stamina":1.0,"status":[]},
	  "inventory":[{"item":"PLANK","count":3}],
	  "voxels":{"center":[0,0,0],"radius":1,"encoding":"RLE","data":"AA=="},
	  "entities":[{"id":"A2","type":"PLAYER","name":"Steve","pos":[4,0,1]}],
	  "events":[],
	  "tasks":[]
	}`)))

	require.NoError(t, v.Validate(TypeAck, []byte(`{"type":"ACK","protocol_version":"1.0","ack_for":"ACT","accepted":true}`)))
}

func TestValidator_RejectsMalformedObs(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	assert.Error(t, v.Validate(TypeObs, []byte(`{"type":"OBS","protocol_version":"1.0","tick":-1,"self":{"pos":[0,0],"hp":1,"hunger":1}}`)))
	assert.Error(t, v.Validate(TypeObs, []byte(`{"type":"OBS"`)))
	assert.Error(t, v.Validate(TypeWelcome, []byte(`{"type":"WELCOME","protocol_version":"1.0","agent_id":""}`)))
}

func TestValidator_UnknownTypePasses(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.NoError(t, v.Validate("CHAT", []byte(`not even json`)))

	var nilV *Validator
	assert.NoError(t, nilV.Validate(TypeObs, []byte(`{}`)))
}
