// Package signetdev talks to the Signet token.
//
// Every command is a framed message carrying a token chosen by the client.
// The device answers each command with a response frame carrying the same
// token, so callers can issue a command, go on with other work and match the
// completion later. Frames travel over a hidraw report stream on Linux or a
// Unix socket when a device bridge or emulator is used.
package signetdev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Protocol constants.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x53474E54 // "SGNT"
)

// HeaderSize is the size of the frame header in bytes.
const HeaderSize = 16

// MaxPayload bounds the payload of a single frame.
const MaxPayload = 64 * 1024

// Command identifies a device command.
type Command uint16

const (
	CmdStartup           Command = 0x0001
	CmdTypeRaw           Command = 0x0010
	CmdReadEntries       Command = 0x0020
	CmdAddEntry          Command = 0x0021
	CmdGetKeyboardLayout Command = 0x0030
	CmdSetKeyboardLayout Command = 0x0031
)

var commandNames = map[Command]string{
	CmdStartup:           "startup",
	CmdTypeRaw:           "type-raw",
	CmdReadEntries:       "read-entries",
	CmdAddEntry:          "add-entry",
	CmdGetKeyboardLayout: "get-keyboard-layout",
	CmdSetKeyboardLayout: "set-keyboard-layout",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("cmd(0x%04x)", uint16(c))
}

// Header flags
const (
	FlagResponse uint8 = 0x01
)

// Status is the result code the device puts in front of a response payload.
type Status uint8

const (
	StatusOK          Status = 0
	StatusBusy        Status = 1
	StatusDenied      Status = 2
	StatusNotFound    Status = 3
	StatusBadRequest  Status = 4
	StatusDeviceError Status = 5
)

// Errors
var (
	ErrBadMagic      = errors.New("signetdev: invalid frame magic")
	ErrBadVersion    = errors.New("signetdev: unsupported protocol version")
	ErrFrameTooLarge = errors.New("signetdev: payload too large")
	ErrShortPayload  = errors.New("signetdev: short payload")

	ErrBusy        = errors.New("signetdev: device busy")
	ErrDenied      = errors.New("signetdev: request denied on device")
	ErrNotFound    = errors.New("signetdev: not found")
	ErrBadRequest  = errors.New("signetdev: bad request")
	ErrDeviceError = errors.New("signetdev: device error")
)

// Err maps a status to an error; StatusOK yields nil.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusBusy:
		return ErrBusy
	case StatusDenied:
		return ErrDenied
	case StatusNotFound:
		return ErrNotFound
	case StatusBadRequest:
		return ErrBadRequest
	}
	return fmt.Errorf("%w: status %d", ErrDeviceError, uint8(s))
}

// Header is the fixed-size frame header.
type Header struct {
	Magic   uint32
	Version uint8
	Flags   uint8
	Command Command
	Token   uint32
	Length  uint32
}

// Frame is a header and its payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// NewFrame builds a request frame.
func NewFrame(cmd Command, token uint32, payload []byte) *Frame {
	return &Frame{
		Header: Header{
			Magic:   ProtocolMagic,
			Version: ProtocolVersion,
			Command: cmd,
			Token:   token,
			Length:  uint32(len(payload)),
		},
		Payload: payload,
	}
}

// IsResponse reports whether the frame came from the device.
func (f *Frame) IsResponse() bool {
	return f.Header.Flags&FlagResponse != 0
}

func (h *Header) encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Command))
	binary.BigEndian.PutUint32(buf[8:12], h.Token)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
}

// ReadHeader reads and checks a frame header.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:   binary.BigEndian.Uint32(buf[0:4]),
		Version: buf[4],
		Flags:   buf[5],
		Command: Command(binary.BigEndian.Uint16(buf[6:8])),
		Token:   binary.BigEndian.Uint32(buf[8:12]),
		Length:  binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("%w: %x", ErrBadMagic, h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	return h, nil
}

// Write writes the frame as a single buffer so report transports never split
// a header from its payload across writers.
func (f *Frame) Write(w io.Writer) error {
	if len(f.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Payload))
	}
	f.Header.Length = uint32(len(f.Payload))
	buf := make([]byte, HeaderSize+len(f.Payload))
	f.Header.encode(buf)
	copy(buf[HeaderSize:], f.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one complete frame.
func ReadFrame(r io.Reader) (*Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	f := &Frame{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, h.Length)
		}
		f.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Response is a device completion for one command.
type Response struct {
	Token   uint32
	Command Command
	Status  Status
	Payload []byte
}

// Err returns the status as an error.
func (r *Response) Err() error {
	if err := r.Status.Err(); err != nil {
		return fmt.Errorf("%s: %w", r.Command, err)
	}
	return nil
}

func responseFromFrame(f *Frame) (*Response, error) {
	if len(f.Payload) < 1 {
		return nil, fmt.Errorf("%w: missing status for %s", ErrShortPayload, f.Header.Command)
	}
	return &Response{
		Token:   f.Header.Token,
		Command: f.Header.Command,
		Status:  Status(f.Payload[0]),
		Payload: f.Payload[1:],
	}, nil
}

// ResponseFrame builds a device response frame; used by device emulators
// and tests.
func ResponseFrame(cmd Command, token uint32, status Status, payload []byte) *Frame {
	f := NewFrame(cmd, token, append([]byte{byte(status)}, payload...))
	f.Header.Flags |= FlagResponse
	return f
}
