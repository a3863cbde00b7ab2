package signetdev

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"signet/internal/account"
	"signet/internal/keyboard"
)

// Emulator answers device commands from memory. It backs the socket
// transport when no token is plugged in and drives the client in tests.
type Emulator struct {
	mu      sync.Mutex
	info    DeviceInfo
	entries map[string][]account.VersionedBlock
	layout  keyboard.Layout
	typed   [][]byte
	log     *slog.Logger

	// OnType, when set, is called for each type-raw command after it is
	// confirmed.
	OnType func(codes []byte, keyCount int)
}

// NewEmulator returns an unlocked emulated token.
func NewEmulator(log *slog.Logger) *Emulator {
	if log == nil {
		log = slog.Default()
	}
	return &Emulator{
		info:    DeviceInfo{Major: 1, Minor: 3, Step: 0, State: StateUnlocked, Serial: "EMULATOR"},
		entries: make(map[string][]account.VersionedBlock),
		log:     log.With(slog.String("component", "emulator")),
	}
}

// SetEntries replaces the blocks of a module.
func (e *Emulator) SetEntries(module string, blocks []account.VersionedBlock) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[module] = append([]account.VersionedBlock(nil), blocks...)
}

// Entries returns a copy of the blocks of a module.
func (e *Emulator) Entries(module string) []account.VersionedBlock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]account.VersionedBlock(nil), e.entries[module]...)
}

// Layout returns the stored keyboard layout.
func (e *Emulator) Layout() keyboard.Layout {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.layout.Clone()
}

// Typed returns every type-raw code sequence received.
func (e *Emulator) Typed() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.typed...)
}

// Serve answers frames on conn until it is closed.
func (e *Emulator) Serve(conn io.ReadWriteCloser) error {
	defer conn.Close()
	for {
		f, err := ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		status, payload := e.handle(f)
		if err := ResponseFrame(f.Header.Command, f.Header.Token, status, payload).Write(conn); err != nil {
			return err
		}
		if f.Header.Command == CmdTypeRaw && status == StatusOK && e.OnType != nil {
			codes, n, _ := DecodeTypeRaw(f.Payload)
			e.OnType(codes, n)
		}
	}
}

// ListenAndServe serves every connection accepted on l until ctx ends.
func (e *Emulator) ListenAndServe(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			if err := e.Serve(conn); err != nil {
				e.log.Warn("connection ended", "error", err)
			}
		}()
	}
}

func (e *Emulator) handle(f *Frame) (Status, []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch f.Header.Command {
	case CmdStartup:
		return StatusOK, EncodeDeviceInfo(e.info)

	case CmdTypeRaw:
		codes, _, err := DecodeTypeRaw(f.Payload)
		if err != nil {
			return StatusBadRequest, nil
		}
		e.typed = append(e.typed, append([]byte(nil), codes...))
		return StatusOK, nil

	case CmdReadEntries:
		module, err := DecodeModule(f.Payload)
		if err != nil {
			return StatusBadRequest, nil
		}
		blocks, ok := e.entries[module]
		if !ok {
			return StatusNotFound, nil
		}
		p, err := EncodeEntries(blocks)
		if err != nil {
			return StatusDeviceError, nil
		}
		return StatusOK, p

	case CmdAddEntry:
		module, b, err := DecodeAddEntry(f.Payload)
		if err != nil {
			return StatusBadRequest, nil
		}
		next := 0
		for _, have := range e.entries[module] {
			if have.EntryID >= next {
				next = have.EntryID + 1
			}
		}
		if next > 0xffff {
			return StatusDeviceError, nil
		}
		b.EntryID = next
		e.entries[module] = append(e.entries[module], b)
		e.log.Info("entry added", "module", module, "entry", next)
		return StatusOK, binary.LittleEndian.AppendUint16(nil, uint16(next))

	case CmdGetKeyboardLayout:
		p, err := e.layout.MarshalBinary()
		if err != nil {
			return StatusDeviceError, nil
		}
		return StatusOK, p

	case CmdSetKeyboardLayout:
		var l keyboard.Layout
		if err := l.UnmarshalBinary(f.Payload); err != nil {
			return StatusBadRequest, nil
		}
		e.layout = l
		e.log.Info("keyboard layout stored", "entries", len(l))
		return StatusOK, nil
	}
	return StatusBadRequest, nil
}
