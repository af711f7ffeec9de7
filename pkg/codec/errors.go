package codec

import "errors"

var (
	// ErrBufferUnderflow reports that fewer bytes remain than a read requires.
	// On a streaming buffer the caller may wait for more data and retry.
	ErrBufferUnderflow = errors.New("codec: buffer underflow")
	// ErrBufferOverflow reports a write past the capacity of a bounded buffer.
	ErrBufferOverflow = errors.New("codec: buffer overflow")
	// ErrInvalidLength reports a negative or implausible length prefix.
	ErrInvalidLength = errors.New("codec: invalid length")
	// ErrEncoding reports text that is not valid UTF-8.
	ErrEncoding = errors.New("codec: invalid utf-8 text")
	// ErrInvalidPort reports a port outside 0..65535.
	ErrInvalidPort = errors.New("codec: invalid port")
)

// Kind returns a short stable label for err, suitable for metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrBufferUnderflow):
		return "underflow"
	case errors.Is(err, ErrBufferOverflow):
		return "overflow"
	case errors.Is(err, ErrInvalidLength):
		return "invalid_length"
	case errors.Is(err, ErrEncoding):
		return "encoding"
	case errors.Is(err, ErrInvalidPort):
		return "invalid_port"
	default:
		return "other"
	}
}
