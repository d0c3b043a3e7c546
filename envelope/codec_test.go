package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	env := &Envelope{
		MessageType:        Command,
		MessageID:          NewMessageID(),
		DeviceID:           "telescope-1",
		Timestamp:          time.Now().UTC().Round(time.Millisecond),
		Priority:           High,
		QoS:                AtLeastOnce,
		ExpireAfterSeconds: 30,
		Command:            "goto",
		Parameters:         map[string]any{"ra": 12.5, "dec": 45.0},
	}

	b, err := Encode(env)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)

	assert.Equal(t, env.MessageType, got.MessageType)
	assert.Equal(t, env.MessageID, got.MessageID)
	assert.Equal(t, env.DeviceID, got.DeviceID)
	assert.Equal(t, env.Timestamp, got.Timestamp)
	assert.Equal(t, env.Command, got.Command)
	assert.Equal(t, env.Parameters["ra"], got.Parameters["ra"])
}

func TestDecodePreservesUnknownKeys(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"messageType":"Event","messageId":"m1","timestamp":"2025-01-01T12:00:00Z",
		"event":"temp_changed","vendorExtension":{"foo":"bar"}}`)

	env, err := Decode(raw)
	require.NoError(t, err)
	require.Contains(t, env.Extra, "vendorExtension")

	b, err := Encode(env)
	require.NoError(t, err)

	roundTripped, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, env.Extra["vendorExtension"], roundTripped.Extra["vendorExtension"])
}

func TestDecodeRejectsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{"deviceId":"x"}`))
	require.Error(t, err)

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestValidateCommandRequiresCommandName(t *testing.T) {
	t.Parallel()

	env := &Envelope{
		MessageType: Command,
		MessageID:   NewMessageID(),
		Timestamp:   time.Now().UTC(),
	}
	err := Validate(env)
	require.Error(t, err)
}

func TestValidateRegistrationRequiresDeviceInfo(t *testing.T) {
	t.Parallel()

	env := &Envelope{
		MessageType: Registration,
		MessageID:   NewMessageID(),
		Timestamp:   time.Now().UTC(),
	}
	require.Error(t, Validate(env))

	env.DeviceInfo = &DeviceInfo{ID: "scope-1", Type: "telescope"}
	require.NoError(t, Validate(env))
}

func TestExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	env := &Envelope{Timestamp: now.Add(-time.Minute), ExpireAfterSeconds: 30}
	assert.True(t, env.Expired(now))

	env.ExpireAfterSeconds = 0
	assert.False(t, env.Expired(now))
}
