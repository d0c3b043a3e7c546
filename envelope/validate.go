package envelope

// Validate enforces the minimum shape every envelope must satisfy per the
// protocol: messageType, messageId and timestamp are always required;
// Commands must carry a command name; Registration must identify the device.
func Validate(env *Envelope) error {
	if env.MessageType == "" {
		return &DecodeError{Reason: "missing messageType"}
	}
	if env.MessageID == "" {
		return &DecodeError{Reason: "missing messageId"}
	}
	if env.Timestamp.IsZero() {
		return &DecodeError{Reason: "missing timestamp"}
	}

	switch env.MessageType {
	case Command, Response, Event, Error, DiscoveryRequest, DiscoveryResponse, Registration, Authentication:
		// known shape
	default:
		return &DecodeError{Reason: "unknown messageType " + string(env.MessageType)}
	}

	if env.MessageType == Command && env.Command == "" {
		return &DecodeError{Reason: "command envelope missing command"}
	}

	if env.MessageType == Registration {
		if env.DeviceInfo == nil || env.DeviceInfo.ID == "" || env.DeviceInfo.Type == "" {
			return &DecodeError{Reason: "registration missing deviceInfo.id or deviceInfo.type"}
		}
	}

	return nil
}
