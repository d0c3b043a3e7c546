package astrocommpb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the gRPC content-subtype this codec registers under. Clients opt
// in with grpc.CallContentSubtype(astrocommpb.Name); the server is started
// with grpc.ForceServerCodec(astrocommpb.Codec{}).
const Name = "raw"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec is a pass-through grpc.encoding.Codec: it neither knows nor cares
// about protobuf, it just ships the Frame's bytes as the wire payload. This
// is the same extension point reverse-proxying gRPC servers use to forward
// opaque bytes without a schema.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("astrocommpb: codec only marshals *Frame, got %T", v)
	}
	return f.Payload, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("astrocommpb: codec only unmarshals *Frame, got %T", v)
	}
	f.Payload = append([]byte(nil), data...)
	return nil
}

func (Codec) Name() string { return Name }
