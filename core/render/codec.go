package render

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrNotProtoMessage  = errors.New("value does not implement proto.Message")
)

// Codec encodes handler values into response bodies and decodes request
// bodies back
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
	ContentType() string
}

// Built-in codecs
var (
	JSON      Codec = jsonCodec{}
	Protobuf  Codec = protobufCodec{}
	ProtoJSON Codec = protoJSONCodec{}
)

var codecs = []Codec{JSON, Protobuf, ProtoJSON}

// ByName returns the codec registered under name
func ByName(name string) (Codec, error) {
	for _, c := range codecs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, name)
}

// ByContentType matches a Content-Type header value, ignoring parameters
// such as charset
func ByContentType(ct string) (Codec, error) {
	mt, _, _ := strings.Cut(ct, ";")
	mt = strings.TrimSpace(mt)
	for _, c := range codecs {
		if strings.EqualFold(c.ContentType(), mt) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, ct)
}

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
}

func (jsonCodec) Decode(data []byte, v any) error {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, v)
}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) ContentType() string { return "application/json" }

type protobufCodec struct{}

func (protobufCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	return proto.Marshal(msg)
}

func (protobufCodec) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	return proto.Unmarshal(data, msg)
}

func (protobufCodec) Name() string        { return "protobuf" }
func (protobufCodec) ContentType() string { return "application/x-protobuf" }

// protoJSONCodec uses the canonical JSON mapping of protocol buffers
type protoJSONCodec struct{}

func (protoJSONCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	return protojson.Marshal(msg)
}

func (protoJSONCodec) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, msg)
}

func (protoJSONCodec) Name() string        { return "protojson" }
func (protoJSONCodec) ContentType() string { return "application/protojson" }
