package grpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/amirimatin/coremember/pkg/codec"
	obsmetrics "github.com/amirimatin/coremember/pkg/observability/metrics"
)

// codecName is the gRPC content subtype of binary member frames.
const codecName = "coremember"

// MaxFrameSize bounds a single encoded message.
const MaxFrameSize = 1 << 20

// binaryCodec frames messages with the member record codec, allowing us to
// avoid protobuf codegen for membership calls.
type binaryCodec struct{}

func (binaryCodec) Marshal(v interface{}) ([]byte, error) {
	enc, ok := v.(codec.Encodable)
	if !ok {
		return nil, fmt.Errorf("grpc: %T cannot be encoded as a %s frame", v, codecName)
	}
	buf := codec.NewStreamBuffer(MaxFrameSize)
	err := enc.EncodeTo(buf)
	obsmetrics.ObserveEncode("grpc", buf.Len(), err)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (binaryCodec) Unmarshal(b []byte, v interface{}) error {
	dec, ok := v.(codec.Decodable)
	if !ok {
		return fmt.Errorf("grpc: %T cannot be decoded from a %s frame", v, codecName)
	}
	buf := codec.WrapStream(b)
	err := dec.DecodeFrom(buf)
	if err == nil && buf.Len() != 0 {
		err = fmt.Errorf("grpc: %w: %d trailing bytes in frame", codec.ErrInvalidLength, buf.Len())
	}
	obsmetrics.ObserveDecode("grpc", len(b), err)
	return err
}

func (binaryCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(binaryCodec{})
}
