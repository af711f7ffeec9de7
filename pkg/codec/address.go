package codec

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"unicode/utf8"
)

// MaxTextLength bounds a decoded text field. Longer prefixes are treated as
// corruption instead of an allocation request.
const MaxTextLength = math.MaxUint16

// Address is a hostname and port pair. Port travels as a 4 byte field even
// though only 0..65535 is meaningful.
type Address struct {
	Hostname string
	Port     int32
}

// NewAddress builds an Address from an int port.
func NewAddress(hostname string, port int) Address {
	return Address{Hostname: hostname, Port: int32(port)}
}

// ParseAddress parses "host:port". The host may be empty.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("codec: invalid address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > math.MaxUint16 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidPort, portStr)
	}
	return NewAddress(host, port), nil
}

// Validate reports whether a can be encoded and is usable on the network.
func (a Address) Validate() error {
	if a.Port < 0 || a.Port > math.MaxUint16 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, a.Port)
	}
	if !utf8.ValidString(a.Hostname) {
		return ErrEncoding
	}
	if len(a.Hostname) > MaxTextLength {
		return fmt.Errorf("%w: hostname is %d bytes", ErrInvalidLength, len(a.Hostname))
	}
	return nil
}

func (a Address) String() string {
	return net.JoinHostPort(a.Hostname, strconv.Itoa(int(a.Port)))
}

// EncodedSize is the number of bytes EncodeAddress writes for a.
func (a Address) EncodedSize() int {
	return 2*int32Size + len(a.Hostname)
}

// EncodeAddress writes the hostname length, the hostname bytes and the port.
// The port is written as is; range checking belongs to Validate.
func EncodeAddress(w Writer, a Address) error {
	return atomically(w, func() error {
		if err := WriteString(w, a.Hostname); err != nil {
			return err
		}
		return w.WriteInt32(a.Port)
	})
}

// DecodeAddress reads an Address written by EncodeAddress.
func DecodeAddress(r Reader) (Address, error) {
	host, err := ReadString(r)
	if err != nil {
		return Address{}, err
	}
	port, err := r.ReadInt32()
	if err != nil {
		return Address{}, fmt.Errorf("codec: reading port: %w", err)
	}
	return Address{Hostname: host, Port: port}, nil
}

// WriteString writes s as an int32 byte length followed by its UTF-8 bytes.
func WriteString(w Writer, s string) error {
	if !utf8.ValidString(s) {
		return ErrEncoding
	}
	if len(s) > MaxTextLength {
		return fmt.Errorf("%w: text is %d bytes", ErrInvalidLength, len(s))
	}
	return atomically(w, func() error {
		if err := w.WriteInt32(int32(len(s))); err != nil {
			return err
		}
		return w.WriteBytes([]byte(s))
	})
}

// ReadString reads a text field written by WriteString.
func ReadString(r Reader) (string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", fmt.Errorf("codec: reading text length: %w", err)
	}
	if n < 0 || n > MaxTextLength {
		return "", fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	p, err := r.ReadBytes(int(n))
	if err != nil {
		return "", fmt.Errorf("codec: reading %d text bytes: %w", n, err)
	}
	if !utf8.Valid(p) {
		return "", ErrEncoding
	}
	return string(p), nil
}
