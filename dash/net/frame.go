package dashnet

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/juju/errors"
	"github.com/temoto/ets2dash/helpers"
)

var (
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrProtocolVersion  = fmt.Errorf("protocol version mismatch")
	ErrTimeout          = fmt.Errorf("read timeout exceeded")
	ErrFrameLenOverflow = fmt.Errorf("frame is too large")
)

// Frame is header + JSON payload
//   offset 0: version  (1 byte) must be 1
//   offset 1: reserved (1 byte) ignored
//   offset 2: length   (2 bytes, big endian) payload size
//   offset 4: payload
const (
	FrameVersion    = byte(1)
	FrameHeaderSize = 1 /*version*/ + 1 /*reserved*/ + 2 /*length*/
	MaxPayloadSize  = math.MaxUint16
)

type Header struct {
	Version  byte
	Reserved byte
	Length   uint16
}

// ParseHeader decodes and validates first FrameHeaderSize bytes of b.
// On version mismatch the decoded header is still returned.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < FrameHeaderSize {
		return Header{}, errors.Annotatef(ErrConnectionClosed, "header size=%d", len(b))
	}
	h := Header{
		Version:  b[0],
		Reserved: b[1],
		Length:   binary.BigEndian.Uint16(b[2:]),
	}
	if h.Version != FrameVersion {
		return h, errors.Annotatef(ErrProtocolVersion, "version=%d expected=%d", h.Version, FrameVersion)
	}
	return h, nil
}

func (h Header) Bytes() []byte {
	b := make([]byte, FrameHeaderSize)
	b[0] = h.Version
	b[1] = h.Reserved
	binary.BigEndian.PutUint16(b[2:], h.Length)
	return b
}

func (h Header) String() string {
	return fmt.Sprintf("(version=%d reserved=%d length=%d)", h.Version, h.Reserved, h.Length)
}

// FrameMarshal returns header and payload in one buffer.
func FrameMarshal(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, errors.Annotatef(ErrFrameLenOverflow, "payload=%d max=%d", len(payload), MaxPayloadSize)
	}
	h := Header{Version: FrameVersion, Length: uint16(len(payload))}
	b := make([]byte, 0, FrameHeaderSize+len(payload))
	b = append(b, h.Bytes()...)
	b = append(b, payload...)
	return b, nil
}

func WriteFrame(w io.Writer, payload []byte) error {
	b, err := FrameMarshal(payload)
	if err != nil {
		return err
	}
	return errors.Annotate(helpers.WriteAll(w, b), "write frame")
}
