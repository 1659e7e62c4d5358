package dualwrite

import (
	"encoding/json"

	"google.golang.org/protobuf/proto"
)

// Codec turns a wire message into bytes.
type Codec[P any] interface {
	Marshal(msg P) ([]byte, error)
}

// CodecFunc adapts a function to Codec.
type CodecFunc[P any] func(msg P) ([]byte, error)

func (f CodecFunc[P]) Marshal(msg P) ([]byte, error) {
	return f(msg)
}

// JSONCodec encodes messages with encoding/json.
type JSONCodec[P any] struct{}

func (JSONCodec[P]) Marshal(msg P) ([]byte, error) {
	return json.Marshal(msg)
}

// ProtoCodec encodes protobuf messages in the binary wire format.
type ProtoCodec[P proto.Message] struct {
	Options proto.MarshalOptions
}

func (c ProtoCodec[P]) Marshal(msg P) ([]byte, error) {
	return c.Options.Marshal(msg)
}
