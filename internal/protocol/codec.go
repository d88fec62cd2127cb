package protocol

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxMessageBytes bounds a single line when no limit is configured.
const DefaultMaxMessageBytes = 64 * 1024

const readChunk = 4096

// Marshal encodes m as a single newline-terminated line.
func Marshal(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode control message: %w", err)
	}
	// The encoder escapes control characters, so a raw newline can only be
	// the delimiter.
	return append(data, '\n'), nil
}

// Unmarshal decodes one line, without its delimiter.
func Unmarshal(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, &DecodeError{Line: snippet(line), Err: err}
	}
	return m, nil
}

// Encoder writes framed messages. It is safe for concurrent use; each
// message is written with a single Write call.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes m followed by the delimiter.
func (e *Encoder) Encode(m Message) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return connErr(err)
	}
	return nil
}

// Decoder reassembles messages from arbitrary read boundaries. Bytes are
// accumulated until a delimiter is seen; a line longer than the limit is
// discarded up to its delimiter and reported as a DecodeError.
type Decoder struct {
	r          io.Reader
	max        int
	buf        []byte
	chunk      []byte
	discarding bool
	err        error
}

// NewDecoder returns a decoder reading from r. max <= 0 selects
// DefaultMaxMessageBytes.
func NewDecoder(r io.Reader, max int) *Decoder {
	if max <= 0 {
		max = DefaultMaxMessageBytes
	}
	return &Decoder{
		r:     r,
		max:   max,
		chunk: make([]byte, readChunk),
	}
}

// Decode returns the next message. A *DecodeError leaves the decoder usable;
// any other error is terminal.
func (d *Decoder) Decode() (Message, error) {
	for {
		if i := bytes.IndexByte(d.buf, '\n'); i >= 0 {
			line := bytes.TrimSpace(d.buf[:i])
			wasDiscarding := d.discarding
			d.discarding = false

			var (
				m   Message
				err error
			)
			switch {
			case wasDiscarding || i > d.max:
				err = &DecodeError{Err: ErrMessageTooLarge}
			case len(line) == 0:
				d.consume(i + 1)
				continue
			default:
				m, err = Unmarshal(line)
			}
			d.consume(i + 1)
			return m, err
		}

		if len(d.buf) > d.max {
			d.discarding = true
			d.buf = d.buf[:0]
		}

		if d.err != nil {
			if len(bytes.TrimSpace(d.buf)) > 0 || d.discarding {
				return Message{}, fmt.Errorf("%w (%d bytes of a partial message dropped)", connErr(d.err), len(d.buf))
			}
			return Message{}, connErr(d.err)
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
		}
		if err != nil {
			d.err = err
		}
	}
}

// consume drops the first n bytes, keeping the backing array.
func (d *Decoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}
