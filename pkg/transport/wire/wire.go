// Package wire implements the binary encoding of endpoint announcements shared
// by the multicast and the static TCP exchange.
//
// A message is laid out as:
//
//	kind    u16 big endian, 'J' or 'L'
//	entry*  u16 big endian length, UTF-8 ip, i32 big endian port
//	end     u16 zero length
//
// The kind marker is a single UTF-16 code unit, which is what existing peers
// send.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/amirimatin/go-rumors/pkg/membership"
)

// MaxEndpoints bounds the number of entries serialized into one message.
const MaxEndpoints = 100

// MaxDatagram is the receive buffer size. A full message of IPv6 entries is
// about 4.5KiB.
const MaxDatagram = 8192

// Kind tells the receiver whether to add or remove the listed endpoints.
type Kind uint16

const (
	Join  Kind = 'J'
	Leave Kind = 'L'
)

func (k Kind) String() string {
	switch k {
	case Join:
		return "join"
	case Leave:
		return "leave"
	default:
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
}

// Message is one announcement.
type Message struct {
	Kind      Kind
	Endpoints []membership.Endpoint
}

// MalformedMessageError reports input that does not follow the layout.
type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return "wire: malformed message: " + e.Reason + ": " + e.Err.Error()
	}
	return "wire: malformed message: " + e.Reason
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

func malformed(reason string, err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return &MalformedMessageError{Reason: reason, Err: err}
}

// Encode serializes m, keeping at most MaxEndpoints entries.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write serializes m to w.
func Write(w io.Writer, m Message) error {
	if m.Kind != Join && m.Kind != Leave {
		return errors.Errorf("wire: unknown message kind %v", m.Kind)
	}
	bw := bufio.NewWriter(w)
	var scratch [4]byte
	binary.BigEndian.PutUint16(scratch[:2], uint16(m.Kind))
	if _, err := bw.Write(scratch[:2]); err != nil {
		return errors.Wrap(err, "wire: write kind")
	}
	for i, e := range m.Endpoints {
		if i >= MaxEndpoints {
			break
		}
		if e.IP == "" {
			return errors.Errorf("wire: endpoint %d has an empty ip", i)
		}
		if len(e.IP) > math.MaxUint16 || !utf8.ValidString(e.IP) {
			return errors.Errorf("wire: endpoint %d ip is not encodable", i)
		}
		if err := writeString(bw, e.IP); err != nil {
			return err
		}
		binary.BigEndian.PutUint32(scratch[:], uint32(int32(e.Port)))
		if _, err := bw.Write(scratch[:]); err != nil {
			return errors.Wrap(err, "wire: write port")
		}
	}
	if err := writeString(bw, ""); err != nil {
		return err
	}
	return errors.Wrap(bw.Flush(), "wire: flush")
}

func writeString(w io.Writer, s string) error {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	if _, err := w.Write(n[:]); err != nil {
		return errors.Wrap(err, "wire: write length")
	}
	if _, err := io.WriteString(w, s); err != nil {
		return errors.Wrap(err, "wire: write string")
	}
	return nil
}

// Decode parses one message from b. Trailing bytes after the terminator are
// ignored, as a datagram may be padded.
func Decode(b []byte) (Message, error) {
	return Read(bytes.NewReader(b))
}

// Read parses one message from r, consuming exactly the bytes that belong to
// it. The entry count is not capped on input; stream callers bound r instead.
func Read(r io.Reader) (Message, error) {
	var m Message
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		return m, malformed("missing kind marker", err)
	}
	m.Kind = Kind(binary.BigEndian.Uint16(hdr[:2]))
	if m.Kind != Join && m.Kind != Leave {
		return m, malformed(fmt.Sprintf("unknown kind marker %#04x", uint16(m.Kind)), nil)
	}
	for {
		ip, err := readString(r)
		if err != nil {
			return m, err
		}
		if ip == "" {
			return m, nil
		}
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return m, malformed("truncated port for "+ip, err)
		}
		port := int32(binary.BigEndian.Uint32(hdr[:]))
		if port < 0 {
			return m, malformed(fmt.Sprintf("negative port %d for %s", port, ip), nil)
		}
		m.Endpoints = append(m.Endpoints, membership.Endpoint{IP: ip, Port: int(port)})
	}
}

func readString(r io.Reader) (string, error) {
	var n [2]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return "", malformed("missing terminator", err)
	}
	size := binary.BigEndian.Uint16(n[:])
	if size == 0 {
		return "", nil
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", malformed("truncated ip", err)
	}
	if !utf8.Valid(b) {
		return "", malformed("ip is not valid UTF-8", nil)
	}
	return string(b), nil
}
