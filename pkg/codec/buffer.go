// Package codec implements the binary wire format of cluster member records.
//
// A member record pairs the client facing core address of a node with its raft
// replication address:
//
//	Member:
//	  coreAddress  Address
//	  raftAddress  Address
//
//	Address:
//	  hostnameLength  int32, big-endian, >= 0
//	  hostnameBytes   hostnameLength bytes of UTF-8
//	  port            int32, big-endian
//
// The same encode and decode functions run over a bounded FixedBuffer (records
// assembled for the raft log and snapshots) and a growable StreamBuffer
// (network messages). The codec keeps no state between calls.
package codec

import "encoding/binary"

// Encoding is the byte order of every fixed width field.
var Encoding = binary.BigEndian

const int32Size = 4

// Writer is the write half of the buffer adapter. Writes are sequential from
// the current write position.
type Writer interface {
	WriteInt32(v int32) error
	WriteBytes(p []byte) error
}

// Reader is the read half of the buffer adapter. A failed read leaves the
// read position untouched.
type Reader interface {
	ReadInt32() (int32, error)
	ReadBytes(n int) ([]byte, error)
}

// Buffer is a positional byte container usable for both directions.
type Buffer interface {
	Writer
	Reader
	// Len returns the number of unread bytes.
	Len() int
}

// Encodable is implemented by values that can write themselves to a Writer.
type Encodable interface {
	EncodeTo(w Writer) error
}

// Decodable is implemented by values that can read themselves from a Reader.
type Decodable interface {
	DecodeFrom(r Reader) error
}

func checkRead(n, available int) error {
	if n < 0 {
		return ErrInvalidLength
	}
	if n > available {
		return ErrBufferUnderflow
	}
	return nil
}

// writeRewinder is implemented by the buffers of this package. writeMark
// returns the unread length; rewindWrite truncates the unread bytes back to it.
type writeRewinder interface {
	writeMark() int
	rewindWrite(n int)
}

// atomically runs fn and, when it fails, drops whatever fn wrote to w.
// Writers from other packages get no rollback.
func atomically(w Writer, fn func() error) error {
	rw, ok := w.(writeRewinder)
	if !ok {
		return fn()
	}
	mark := rw.writeMark()
	if err := fn(); err != nil {
		rw.rewindWrite(mark)
		return err
	}
	return nil
}
