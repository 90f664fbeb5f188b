package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype the hub's RPCs are negotiated under. Clients
// must dial with grpc.CallContentSubtype(wire.Name).
const Name = "cbor"

func init() {
	encoding.RegisterCodec(codec{})
}

// codec marshals RPC messages with CBOR. The protocol schema is maintained
// as plain Go structs; there is no generated code.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (codec) Unmarshal(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor unmarshal into %T: %w", v, err)
	}
	return nil
}

func (codec) Name() string { return Name }
