package wire

import "fmt"

// CodecName is the gRPC content-subtype this package's Codec implements.
// Both client and server must be configured with this Codec (via
// grpc.ForceServerCodec on the server and grpc.ForceCodec on the client) so
// that every call on the federation service uses the hand-rolled protowire
// encoding instead of gRPC's default protobuf-reflection codec.
const CodecName = "fedwire"

// Codec adapts the Message marshal/unmarshal contract (frames.go) to the
// google.golang.org/grpc/encoding.Codec interface.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("wire: %T does not implement wire.Message", v)
	}
	return m.Marshal()
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("wire: %T does not implement wire.Message", v)
	}
	return m.Unmarshal(data)
}
