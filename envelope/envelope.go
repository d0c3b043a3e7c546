// Package envelope defines the wire message model shared by every transport
// adaptor: typed envelopes, the eight message shapes from the protocol, and
// the codec that turns them into canonical JSON and back.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// MessageType identifies which of the eight envelope shapes a message is.
type MessageType string

const (
	Command           MessageType = "Command"
	Response          MessageType = "Response"
	Event             MessageType = "Event"
	Error             MessageType = "Error"
	DiscoveryRequest  MessageType = "DiscoveryRequest"
	DiscoveryResponse MessageType = "DiscoveryResponse"
	Registration      MessageType = "Registration"
	Authentication    MessageType = "Authentication"
)

// Priority affects queue ordering only; it carries no delivery guarantee.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// QoS is the delivery contract requested for an envelope.
type QoS int

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

// Stable error codes referenced by router, queue, auth and supervisor.
const (
	ErrDeviceUnavailable    = "DEVICE_UNAVAILABLE"
	ErrTimeout              = "TIMEOUT"
	ErrCancelled            = "CANCELLED"
	ErrBackpressure         = "BACKPRESSURE"
	ErrUnauthenticated      = "UNAUTHENTICATED"
	ErrRateLimited          = "RATE_LIMITED"
	ErrInvalidEnvelope      = "INVALID_ENVELOPE"
	ErrUnsupportedCommand   = "UNSUPPORTED_COMMAND"
	ErrDuplicateRegistration = "DUPLICATE_REGISTRATION"
)

// Severity classifies a device-reported Error.
type Severity string

const (
	SeverityDebug    Severity = "Debug"
	SeverityInfo     Severity = "Info"
	SeverityWarning  Severity = "Warning"
	SeverityError    Severity = "Error"
	SeverityCritical Severity = "Critical"
)

// Envelope is the single message shape carried across every transport.
// Subtype-specific fields are all present (zero-valued when unused) so the
// codec can round-trip any shape without reflection tricks; Extra preserves
// unknown keys encountered on decode so bridges can round-trip opaque
// extensions they don't understand.
type Envelope struct {
	MessageType        MessageType `json:"messageType"`
	MessageID          string      `json:"messageId"`
	DeviceID           string      `json:"deviceId,omitempty"`
	Timestamp          time.Time   `json:"timestamp"`
	OriginalMessageID  string      `json:"originalMessageId,omitempty"`
	Priority           Priority    `json:"priority"`
	QoS                QoS         `json:"qos"`
	ExpireAfterSeconds int         `json:"expireAfterSeconds"`

	// Command
	Command    string         `json:"command,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`

	// Response
	Status  string         `json:"status,omitempty"`
	Details map[string]any `json:"details,omitempty"`

	// Event
	Event             string `json:"event,omitempty"`
	RelatedMessageID  string `json:"relatedMessageId,omitempty"`

	// Error
	ErrorCode    string   `json:"errorCode,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	Severity     Severity `json:"severity,omitempty"`

	// Registration
	DeviceInfo *DeviceInfo `json:"deviceInfo,omitempty"`

	// Discovery
	DeviceTypes []string               `json:"deviceTypes,omitempty"`
	Devices     map[string]*DeviceInfo `json:"devices,omitempty"`

	// Authentication
	Method      string `json:"method,omitempty"`
	Credentials string `json:"credentials,omitempty"`

	// Extra preserves unknown top-level keys seen on decode.
	Extra map[string]any `json:"-"`
}

// DeviceInfo is the Registration/Discovery payload describing a device.
type DeviceInfo struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Manufacturer    string         `json:"manufacturer,omitempty"`
	Model           string         `json:"model,omitempty"`
	FirmwareVersion string         `json:"firmwareVersion,omitempty"`
	Capabilities    []string       `json:"capabilities,omitempty"`
	Properties      map[string]any `json:"properties,omitempty"`
}

// NewMessageID returns a cryptographically sound globally unique message id.
func NewMessageID() string {
	return uuid.NewString()
}

// ExpiresAt returns the wall-clock deadline for this envelope, or the zero
// Time if it never expires.
func (e *Envelope) ExpiresAt() time.Time {
	if e.ExpireAfterSeconds <= 0 {
		return time.Time{}
	}
	return e.Timestamp.Add(time.Duration(e.ExpireAfterSeconds) * time.Second)
}

// Expired reports whether the envelope's expiry deadline has passed as of now.
func (e *Envelope) Expired(now time.Time) bool {
	deadline := e.ExpiresAt()
	if deadline.IsZero() {
		return false
	}
	return now.After(deadline)
}

// NewError builds an Error envelope correlated to the triggering message.
func NewError(originalMessageID, deviceID, code, message string, severity Severity) *Envelope {
	return &Envelope{
		MessageType:       Error,
		MessageID:         NewMessageID(),
		DeviceID:          deviceID,
		Timestamp:         time.Now().UTC(),
		OriginalMessageID: originalMessageID,
		Priority:          Normal,
		QoS:               AtMostOnce,
		ErrorCode:         code,
		ErrorMessage:      message,
		Severity:          severity,
	}
}

// NewEvent builds an Event envelope for deviceID.
func NewEvent(deviceID, name string, properties, details map[string]any, priority Priority) *Envelope {
	return &Envelope{
		MessageType: Event,
		MessageID:   NewMessageID(),
		DeviceID:    deviceID,
		Timestamp:   time.Now().UTC(),
		Priority:    priority,
		QoS:         AtMostOnce,
		Event:       name,
		Properties:  properties,
		Details:     details,
	}
}
