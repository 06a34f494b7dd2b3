package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientMessage_Wire(t *testing.T) {
	id := uuid.MustParse("0190a4b2-7c1e-7f00-8000-000000000001")

	data, err := json.Marshal(SelectSession{SessionID: id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"SelectSession","session_id":"0190a4b2-7c1e-7f00-8000-000000000001"}`, string(data))

	data, err = json.Marshal(Heartbeat{Identity{SessionID: id, SlotIndex: 1, Secret: "s3cret"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Heartbeat","session_id":"0190a4b2-7c1e-7f00-8000-000000000001","slot_index":1,"secret":"s3cret"}`, string(data))

	m, err := DecodeClientMessage(data)
	require.NoError(t, err)
	assert.Equal(t, Heartbeat{Identity{SessionID: id, SlotIndex: 1, Secret: "s3cret"}}, m)
}

func TestDecodeClientMessage_SlotZero(t *testing.T) {
	id := uuid.New()
	m, err := DecodeClientMessage([]byte(`{"type":"Heartbeat","session_id":"` + id.String() + `","slot_index":0,"secret":"x"}`))
	require.NoError(t, err)

	hb, ok := m.(Heartbeat)
	require.True(t, ok)
	assert.Equal(t, 0, hb.SlotIndex)
}

func TestDecodeClientMessage_Errors(t *testing.T) {
	id := uuid.NewString()

	tests := []struct {
		name string
		data string
	}{
		{"not json", `hello`},
		{"array", `[1,2]`},
		{"unknown type", `{"type":"Resign","session_id":"` + id + `"}`},
		{"missing type", `{"session_id":"` + id + `"}`},
		{"missing session", `{"type":"SelectSession"}`},
		{"nil session", `{"type":"SelectSession","session_id":"00000000-0000-0000-0000-000000000000"}`},
		{"bad session", `{"type":"SelectSession","session_id":"abc"}`},
		{"heartbeat without slot", `{"type":"Heartbeat","session_id":"` + id + `","secret":"x"}`},
		{"slot not a number", `{"type":"Heartbeat","session_id":"` + id + `","slot_index":"0","secret":"x"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tc.data))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestSlotSnapshot_Wire(t *testing.T) {
	name := "Bob"
	hb := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	data, err := json.Marshal(SlotSnapshot{Slots: []SlotView{
		{SlotIndex: 0},
		{SlotIndex: 1, Name: &name, IsAssigned: true, LastHeartbeat: &hb},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"SlotSnapshot","slots":[
		{"slot_index":0,"is_assigned":false},
		{"slot_index":1,"name":"Bob","is_assigned":true,"last_heartbeat":"2024-05-01T12:00:00Z"}
	]}`, string(data))

	m, err := DecodeServerMessage(data)
	require.NoError(t, err)
	snap, ok := m.(SlotSnapshot)
	require.True(t, ok)
	require.Len(t, snap.Slots, 2)
	assert.Nil(t, snap.Slots[0].Name)
	assert.True(t, hb.Equal(*snap.Slots[1].LastHeartbeat))
}

func TestSlotSnapshot_EmptySlotsEncodeAsArray(t *testing.T) {
	data, err := json.Marshal(SlotSnapshot{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"SlotSnapshot","slots":[]}`, string(data))
}

func TestDecodeServerMessage_UnknownType(t *testing.T) {
	_, err := DecodeServerMessage([]byte(`{"type":"Chat"}`))
	assert.ErrorIs(t, err, ErrDecode)
}
