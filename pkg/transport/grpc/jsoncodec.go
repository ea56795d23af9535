package grpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is both the codec name and the content subtype clients request.
const codecName = "json"

// jsonCodec carries management messages as JSON so no protobuf codegen is
// needed. Health check messages are encoded the same way.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(b []byte, v interface{}) error { return json.Unmarshal(b, v) }
func (jsonCodec) Name() string                            { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
