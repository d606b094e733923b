package dashnet

import (
	"io"
	"net"

	"github.com/juju/errors"
)

// Same limit as bufio uses against broken readers.
const maxConsecutiveEmptyReads = 100

// FrameReader reads one frame at a time straight from r.
// It never reads past the end of current frame, so the rest of the stream
// stays untouched for the next call or for another reader.
type FrameReader struct {
	r      io.Reader
	header [FrameHeaderSize]byte
	last   Header
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Header returns header of the last frame read, including reserved byte.
func (fr *FrameReader) Header() Header { return fr.last }

// ReadFrame returns payload of exactly header.Length bytes.
// Errors: ErrConnectionClosed, ErrProtocolVersion, ErrTimeout (causes).
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if err := readFull(fr.r, fr.header[:]); err != nil {
		return nil, errors.Annotate(err, "header")
	}
	h, err := ParseHeader(fr.header[:])
	fr.last = h
	if err != nil {
		return nil, err
	}

	payload := make([]byte, h.Length)
	if err = readFull(fr.r, payload); err != nil {
		return nil, errors.Annotatef(err, "payload length=%d", h.Length)
	}
	return payload, nil
}

// readFull keeps reading into buf until it is full.
// Short reads are normal on stream sockets and are retried.
func readFull(r io.Reader, buf []byte) error {
	done, empty := 0, 0
	for done < len(buf) {
		n, err := r.Read(buf[done:])
		done += n
		if done == len(buf) {
			// data is complete, error (even EOF) belongs to next frame
			return nil
		}
		if err != nil {
			return readError(err, done, len(buf))
		}
		if n == 0 {
			empty++
			if empty >= maxConsecutiveEmptyReads {
				return errors.Annotatef(errors.Wrap(io.ErrNoProgress, ErrConnectionClosed), "read=%d/%d no progress", done, len(buf))
			}
			continue
		}
		empty = 0
	}
	return nil
}

func readError(err error, done, want int) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Annotatef(ErrConnectionClosed, "read=%d/%d", done, want)
	}
	if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
		return errors.Annotatef(errors.Wrap(err, ErrTimeout), "read=%d/%d", done, want)
	}
	// reset, closed by local Close() and similar stream failures
	return errors.Annotatef(errors.Wrap(err, ErrConnectionClosed), "read=%d/%d err=%v", done, want, err)
}
