// Package capsule implements the generic HTTP capsule framing (a
// varint-typed, varint-length-prefixed record on an HTTP stream body) and
// the one capsule type this module needs: CLOSE_WEBTRANSPORT_SESSION.
//
// Reader consumes capsules one at a time off a plain io.Reader, the same
// shape as a length-prefixed frame decoder: read the header, then read
// exactly that many payload bytes.
package capsule

import (
	"fmt"
	"io"

	"webtransport/varint"
)

// Type identifies a capsule's payload format.
type Type uint64

// TypeCloseWebTransportSession is the capsule type used to signal an
// application-level close of a WebTransport session.
const TypeCloseWebTransportSession Type = 0x2843

// Capsule is a typed, length-prefixed record on a CONNECT stream's body.
type Capsule struct {
	Type Type
	Data []byte
}

// Encode serializes the capsule as type-varint || length-varint || data.
func (c Capsule) Encode() []byte {
	buf := varint.Encode(nil, uint64(c.Type))
	buf = varint.Encode(buf, uint64(len(c.Data)))
	return append(buf, c.Data...)
}

// Decode parses a single capsule from the front of data. It does not
// require data to contain only the one capsule; trailing bytes belonging
// to a subsequent capsule are ignored.
func Decode(data []byte) (Capsule, int, error) {
	typ, n1, ok := varint.Decode(data)
	if !ok {
		return Capsule{}, 0, fmt.Errorf("capsule: truncated type")
	}
	length, n2, ok := varint.Decode(data[n1:])
	if !ok {
		return Capsule{}, 0, fmt.Errorf("capsule: truncated length")
	}
	start := n1 + n2
	end := start + int(length)
	if end > len(data) {
		return Capsule{}, 0, fmt.Errorf("capsule: truncated payload, want %d have %d", length, len(data)-start)
	}
	return Capsule{Type: Type(typ), Data: data[start:end]}, end, nil
}

// CloseWebTransportSession builds the capsule payload for closing a
// session: a 32-bit big-endian application error code followed by a
// UTF-8 error message (length implied by capsule framing, no further
// delimiter).
func CloseWebTransportSession(errorCode uint32, errorMessage string) Capsule {
	data := make([]byte, 4+len(errorMessage))
	data[0] = byte(errorCode >> 24)
	data[1] = byte(errorCode >> 16)
	data[2] = byte(errorCode >> 8)
	data[3] = byte(errorCode)
	copy(data[4:], errorMessage)
	return Capsule{Type: TypeCloseWebTransportSession, Data: data}
}

// ParseCloseWebTransportSession extracts the error code and message from
// a capsule previously built by CloseWebTransportSession.
func ParseCloseWebTransportSession(c Capsule) (errorCode uint32, errorMessage string, err error) {
	if c.Type != TypeCloseWebTransportSession {
		return 0, "", fmt.Errorf("capsule: type %#x is not CLOSE_WEBTRANSPORT_SESSION", c.Type)
	}
	if len(c.Data) < 4 {
		return 0, "", fmt.Errorf("capsule: close payload too short (%d bytes)", len(c.Data))
	}
	code := uint32(c.Data[0])<<24 | uint32(c.Data[1])<<16 | uint32(c.Data[2])<<8 | uint32(c.Data[3])
	return code, string(c.Data[4:]), nil
}

// Reader reads a sequence of capsules off an io.Reader, such as the body
// of an HTTP extended-CONNECT stream.
type Reader struct {
	r io.Reader
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadCapsule reads and decodes the next capsule, blocking on r as
// needed. It returns io.EOF only when no bytes of a new capsule have been
// read yet.
func (cr *Reader) ReadCapsule() (Capsule, error) {
	var typeBuf [8]byte
	if _, err := io.ReadFull(cr.r, typeBuf[:1]); err != nil {
		return Capsule{}, err
	}
	// Past the first byte, running out of input means a truncated capsule.
	readRest := func(b []byte) error {
		if _, err := io.ReadFull(cr.r, b); err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		return nil
	}
	typeLen := varint.PeekLen(typeBuf[0])
	if typeLen > 1 {
		if err := readRest(typeBuf[1:typeLen]); err != nil {
			return Capsule{}, err
		}
	}
	typ, _, ok := varint.Decode(typeBuf[:typeLen])
	if !ok {
		return Capsule{}, fmt.Errorf("capsule: corrupt type varint")
	}

	var lenBuf [8]byte
	if err := readRest(lenBuf[:1]); err != nil {
		return Capsule{}, err
	}
	lenLen := varint.PeekLen(lenBuf[0])
	if lenLen > 1 {
		if err := readRest(lenBuf[1:lenLen]); err != nil {
			return Capsule{}, err
		}
	}
	length, _, ok := varint.Decode(lenBuf[:lenLen])
	if !ok {
		return Capsule{}, fmt.Errorf("capsule: corrupt length varint")
	}

	data := make([]byte, length)
	if err := readRest(data); err != nil {
		return Capsule{}, err
	}
	return Capsule{Type: Type(typ), Data: data}, nil
}
