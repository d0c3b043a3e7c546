// Package astrocommpb defines the tiny wire contract the gRPC adaptor uses
// to carry already-encoded envelope JSON over unary and streaming RPCs
// without a protoc code-generation step: a Frame is just opaque bytes, and
// a custom grpc codec (see codec.go) passes them through verbatim instead
// of re-encoding them as protobuf.
package astrocommpb

// Frame wraps one already-JSON-encoded envelope for transport over gRPC.
type Frame struct {
	Payload []byte
}
