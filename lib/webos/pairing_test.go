package webos

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(t *testing.T, typ string, payload any) Message {
	t.Helper()
	m := Message{ID: "register_0", Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		m.Payload = raw
	}
	return m
}

func TestPairingRegisterMessageCarriesCachedKey(t *testing.T) {
	t.Parallel()
	p := NewPairing("cached")

	m, err := p.RegisterMessage("register_0")
	require.NoError(t, err)
	assert.Equal(t, TypeRegister, m.Type)
	assert.Equal(t, PairingAwaitingResponse, p.State())

	var payload registerPayload
	require.NoError(t, json.Unmarshal(m.Payload, &payload))
	assert.Equal(t, "cached", payload.ClientKey)
	assert.Equal(t, "PROMPT", payload.PairingType)
	assert.Contains(t, payload.Manifest.Permissions, "CONTROL_MOUSE_AND_KEYBOARD")

	_, err = p.RegisterMessage("register_1")
	assert.Error(t, err)
}

func TestPairingRegisterMessageOmitsEmptyKey(t *testing.T) {
	t.Parallel()
	m, err := NewPairing("").RegisterMessage("register_0")
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(m.Payload, &raw))
	assert.NotContains(t, raw, "client-key")
}

func TestPairingPromptThenRegistered(t *testing.T) {
	t.Parallel()
	p := NewPairing("")
	_, err := p.RegisterMessage("register_0")
	require.NoError(t, err)

	state, err := p.Handle(msg(t, TypeResponse, map[string]any{"pairingType": "PROMPT"}))
	require.NoError(t, err)
	assert.Equal(t, PairingAwaitingUserPrompt, state)

	state, err = p.Handle(msg(t, TypeResponse, map[string]any{"returnValue": true}))
	require.NoError(t, err, "unrelated traffic while the prompt is shown keeps waiting")
	assert.Equal(t, PairingAwaitingUserPrompt, state)

	state, err = p.Handle(msg(t, TypeRegistered, map[string]any{"client-key": "fresh"}))
	require.NoError(t, err)
	assert.Equal(t, PairingRegistered, state)

	key, ok := p.NewKey()
	assert.True(t, ok)
	assert.Equal(t, "fresh", key)
}

func TestPairingSameKeyIsNotNew(t *testing.T) {
	t.Parallel()
	p := NewPairing("same")
	_, err := p.RegisterMessage("register_0")
	require.NoError(t, err)

	_, err = p.Handle(msg(t, TypeRegistered, map[string]any{"client-key": "same"}))
	require.NoError(t, err)
	_, ok := p.NewKey()
	assert.False(t, ok)
}

func TestPairingViolations(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name string
		msg  Message
	}{
		{"plain response", Message{Type: TypeResponse, Payload: json.RawMessage(`{"returnValue":true}`)}},
		{"error", Message{Type: TypeError, Error: "403 denied"}},
		{"unknown type", Message{Type: "hello"}},
		{"bad payload", Message{Type: TypeRegistered, Payload: json.RawMessage(`[1,2]`)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPairing("")
			_, err := p.RegisterMessage("register_0")
			require.NoError(t, err)

			state, err := p.Handle(tc.msg)
			require.Error(t, err)
			assert.Equal(t, PairingFailed, state)

			var pe *PairingError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, PairingAwaitingResponse, pe.State)

			_, ok := p.NewKey()
			assert.False(t, ok)
		})
	}
}

func TestPairingHandleBeforeRegister(t *testing.T) {
	t.Parallel()
	_, err := NewPairing("").Handle(Message{Type: TypeRegistered})
	var pe *PairingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PairingUnregistered, pe.State)
}
