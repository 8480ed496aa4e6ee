package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data, err := Marshal(MsgPersistSelection, PersistSelectionPayload{
		Ref:         "r-1",
		SessionID:   "s-1",
		DocumentIDs: []string{"d1", "d2"},
		NoteIDs:     []string{"n1"},
	})
	require.NoError(t, err)

	msgType, raw, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, MsgPersistSelection, msgType)

	payload, err := UnmarshalPayload[PersistSelectionPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "r-1", payload.Ref)
	assert.Equal(t, []string{"d1", "d2"}, payload.DocumentIDs)
	assert.Equal(t, []string{"n1"}, payload.NoteIDs)
}

func TestMarshalNilPayload(t *testing.T) {
	data, err := Marshal(MsgHeartbeat, nil)
	require.NoError(t, err)

	msgType, raw, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, MsgHeartbeat, msgType)
	assert.Empty(t, raw)
}

func TestUnmarshalRejectsMissingType(t *testing.T) {
	_, _, err := Unmarshal([]byte(`{"payload":{}}`))
	assert.Error(t, err)

	_, _, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}
