// Package wire implements the framed transport spoken between a debugged
// process and the dlv-attach client.
//
// Every message travels as a frame
//
//	<N>|<K>|<payload>
//
// where N is the decimal byte length of payload and K the decimal kind code.
// The payload is not escaped: its length is always explicit, so delimiter
// characters inside it are literal.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind tags a frame.
type Kind uint8

const (
	// KindText is ordinary output or command text.
	KindText Kind = 0
	// KindPrompt marks the debugger as ready for the next command.
	KindPrompt Kind = 1
	// KindEndOfInput asks the receiver to behave as if its input was
	// exhausted. It carries no payload.
	KindEndOfInput Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPrompt:
		return "prompt"
	case KindEndOfInput:
		return "eof"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Message is one decoded frame.
type Message struct {
	Payload string
	Kind    Kind
}

// IsPrompt returns true if m is a prompt.
func (m Message) IsPrompt() bool {
	return m.Kind == KindPrompt
}

const (
	delim = '|'

	// maxLengthDigits bounds the length field of a frame header.
	maxLengthDigits = 10
	// maxKindDigits bounds the kind field of a frame header.
	maxKindDigits = 3
)

// ErrEndOfInput is returned by the read primitives when the peer sent an
// end-of-input control frame.
var ErrEndOfInput = errors.New("end of input")

// FrameError is a protocol violation found while decoding a frame header.
type FrameError struct {
	Field  string
	Header string
	Reason string
}

func (err *FrameError) Error() string {
	return fmt.Sprintf("malformed frame %s %q: %s", err.Field, err.Header, err.Reason)
}

// AppendFrame appends the encoding of a frame with the given kind and
// payload to dst and returns the extended buffer.
func AppendFrame(dst []byte, kind Kind, payload string) []byte {
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, delim)
	dst = strconv.AppendUint(dst, uint64(kind), 10)
	dst = append(dst, delim)
	return append(dst, payload...)
}

// EncodeFrame returns the encoding of a frame.
func EncodeFrame(kind Kind, payload string) []byte {
	return AppendFrame(make([]byte, 0, len(payload)+8), kind, payload)
}

// ReadFrame decodes a single frame from rdr. Payloads longer than
// maxPayload are rejected, a negative maxPayload disables the check.
//
// It returns io.EOF if the stream ends before the first header byte,
// io.ErrUnexpectedEOF if it ends inside a frame (the partial payload read so
// far is returned with it) and a *FrameError if the header is malformed.
// An end-of-input frame is returned as a regular Message: deciding what it
// means is up to the caller.
func ReadFrame(rdr *bufio.Reader, maxPayload int) (Message, error) {
	n, err := readField(rdr, "length", maxLengthDigits, true)
	if err != nil {
		return Message{}, err
	}
	if maxPayload >= 0 && n > uint64(maxPayload) {
		return Message{}, &FrameError{Field: "length", Header: strconv.FormatUint(n, 10), Reason: fmt.Sprintf("exceeds maximum payload of %d bytes", maxPayload)}
	}
	k, err := readField(rdr, "kind", maxKindDigits, false)
	if err != nil {
		return Message{}, err
	}
	kind := Kind(k)
	if kind > KindEndOfInput {
		return Message{}, &FrameError{Field: "kind", Header: strconv.FormatUint(k, 10), Reason: "unknown kind"}
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(rdr, buf)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Message{Payload: string(buf[:got]), Kind: kind}, err
	}
	return Message{Payload: string(buf), Kind: kind}, nil
}

// readField reads a decimal field terminated by delim.
func readField(rdr *bufio.Reader, field string, maxDigits int, first bool) (uint64, error) {
	var hdr []byte
	for {
		ch, err := rdr.ReadByte()
		if err != nil {
			if err == io.EOF && (!first || len(hdr) > 0) {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if ch == delim {
			break
		}
		hdr = append(hdr, ch)
		if ch < '0' || ch > '9' {
			return 0, &FrameError{Field: field, Header: string(hdr), Reason: "not a decimal number"}
		}
		if len(hdr) > maxDigits {
			return 0, &FrameError{Field: field, Header: string(hdr), Reason: "too long"}
		}
	}
	if len(hdr) == 0 {
		return 0, &FrameError{Field: field, Header: "", Reason: "empty"}
	}
	return strconv.ParseUint(string(hdr), 10, 64)
}
