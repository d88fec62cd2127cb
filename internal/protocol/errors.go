package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	// ErrConnectionLost is returned once the peer has closed or reset the
	// connection, or a read deadline expired.
	ErrConnectionLost = errors.New("control connection lost")

	// ErrPortInUse is returned by Listen when the control port is taken.
	ErrPortInUse = errors.New("control port already in use")

	// ErrMessageTooLarge is wrapped in a DecodeError when a line exceeds the
	// configured maximum.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// DecodeError reports a malformed or oversized line. The line is dropped
// and the connection stays open.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("failed to decode control message: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode control message %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a recoverable decode failure.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// connErr maps transport failures onto ErrConnectionLost.
func connErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNABORTED):
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return err
}

// snippet shortens a line for error messages.
func snippet(b []byte) string {
	const max = 120
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
