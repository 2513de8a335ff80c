package relay

import (
	"context"
	"testing"
	"time"

	"github.com/ihiteshgupta/call-coordinator/internal/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSignal(t *testing.T) {
	sig := call.Signal{
		CallID:     "c1",
		FromUserID: "alice",
		ToUserID:   "bob",
		Type:       call.SignalOffer,
		Payload:    call.SignalPayload{SessionAddress: "room-1", CallType: call.TypeVideo, CallerDisplayName: "Alice"},
		CreatedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	values, err := encodeSignal(sig)
	require.NoError(t, err)
	assert.Equal(t, "offer", values["signal_type"])

	decoded, err := decodeSignal(values)
	require.NoError(t, err)
	assert.Equal(t, sig.CallID, decoded.CallID)
	assert.Equal(t, sig.Payload, decoded.Payload)
	assert.True(t, sig.CreatedAt.Equal(decoded.CreatedAt))
}

func TestDecodeSignal_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
	}{
		{
			name:   "unknown type",
			values: map[string]interface{}{"call_id": "c1", "from": "a", "to": "b", "signal_type": "answer", "payload": "{}"},
		},
		{
			name:   "bad payload",
			values: map[string]interface{}{"call_id": "c1", "from": "a", "to": "b", "signal_type": "offer", "payload": "{"},
		},
		{
			name:   "missing recipient",
			values: map[string]interface{}{"call_id": "c1", "from": "a", "signal_type": "offer", "payload": "{}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeSignal(tt.values)
			assert.Error(t, err)
		})
	}
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "call:signals:bob", streamKey("bob"))
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}
