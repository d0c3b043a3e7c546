package envelope

import (
	"encoding/json"
	"fmt"
)

// DecodeError is returned by Decode when the bytes are not valid JSON or the
// resulting envelope fails Validate. Callers decide whether to reply with an
// Error envelope.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

// knownFields mirrors the json tags on Envelope so Decode can split unknown
// keys into Extra without reflecting over the struct at runtime.
var knownFields = map[string]bool{
	"messageType": true, "messageId": true, "deviceId": true, "timestamp": true,
	"originalMessageId": true, "priority": true, "qos": true, "expireAfterSeconds": true,
	"command": true, "parameters": true, "properties": true,
	"status": true, "details": true,
	"event": true, "relatedMessageId": true,
	"errorCode": true, "errorMessage": true, "severity": true,
	"deviceInfo": true,
	"deviceTypes": true, "devices": true,
	"method": true, "credentials": true,
}

// Encode renders env as canonical JSON using the fixed key spelling from the
// protocol. Unknown keys previously captured in Extra are merged back in.
func Encode(env *Envelope) ([]byte, error) {
	base, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if len(env.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	for k, v := range env.Extra {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode envelope: extra key %q: %w", k, err)
		}
		merged[k] = b
	}
	return json.Marshal(merged)
}

// Decode parses bytes into an Envelope, validates required fields, and stows
// any key not in the protocol's fixed spelling into Extra so bridges can
// round-trip opaque extensions.
func Decode(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err == nil {
		for k, v := range raw {
			if knownFields[k] {
				continue
			}
			var val any
			if err := json.Unmarshal(v, &val); err == nil {
				if env.Extra == nil {
					env.Extra = make(map[string]any)
				}
				env.Extra[k] = val
			}
		}
	}

	if err := Validate(&env); err != nil {
		return nil, err
	}
	return &env, nil
}
