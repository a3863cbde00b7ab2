package signetdev

import (
	"encoding/binary"
	"fmt"
	"math"

	"signet/internal/account"
)

// DeviceState is the unlock state reported at startup.
type DeviceState uint8

const (
	StateUninitialized DeviceState = 0
	StateLocked        DeviceState = 1
	StateUnlocked      DeviceState = 2
)

func (s DeviceState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// DeviceInfo is the startup response.
type DeviceInfo struct {
	Major  uint8       `json:"major"`
	Minor  uint8       `json:"minor"`
	Step   uint8       `json:"step"`
	State  DeviceState `json:"state"`
	Serial string      `json:"serial"`
}

// Firmware formats the firmware version.
func (d DeviceInfo) Firmware() string {
	return fmt.Sprintf("%d.%d.%d", d.Major, d.Minor, d.Step)
}

// EncodeDeviceInfo is the device side of the startup response.
func EncodeDeviceInfo(d DeviceInfo) []byte {
	buf := []byte{d.Major, d.Minor, d.Step, byte(d.State), byte(len(d.Serial))}
	return append(buf, d.Serial...)
}

// DecodeDeviceInfo parses a startup response payload.
func DecodeDeviceInfo(p []byte) (DeviceInfo, error) {
	if len(p) < 5 {
		return DeviceInfo{}, fmt.Errorf("%w: startup response %d bytes", ErrShortPayload, len(p))
	}
	n := int(p[4])
	if len(p) < 5+n {
		return DeviceInfo{}, fmt.Errorf("%w: serial", ErrShortPayload)
	}
	return DeviceInfo{
		Major:  p[0],
		Minor:  p[1],
		Step:   p[2],
		State:  DeviceState(p[3]),
		Serial: string(p[5 : 5+n]),
	}, nil
}

// EncodeTypeRaw builds a type-raw payload. codes holds one (modifier,
// scancode) pair per key report.
func EncodeTypeRaw(codes []byte, keyCount int) ([]byte, error) {
	if keyCount <= 0 || keyCount > math.MaxUint16 || len(codes) != 2*keyCount {
		return nil, fmt.Errorf("%w: %d codes for %d keys", ErrBadRequest, len(codes), keyCount)
	}
	buf := binary.LittleEndian.AppendUint16(nil, uint16(keyCount))
	return append(buf, codes...), nil
}

// DecodeTypeRaw is the device side of EncodeTypeRaw.
func DecodeTypeRaw(p []byte) (codes []byte, keyCount int, err error) {
	if len(p) < 2 {
		return nil, 0, fmt.Errorf("%w: type-raw", ErrShortPayload)
	}
	keyCount = int(binary.LittleEndian.Uint16(p))
	codes = p[2:]
	if len(codes) != 2*keyCount {
		return nil, 0, fmt.Errorf("%w: %d codes for %d keys", ErrBadRequest, len(codes), keyCount)
	}
	return codes, keyCount, nil
}

// EncodeModule builds the read-entries request payload.
func EncodeModule(module string) ([]byte, error) {
	if len(module) == 0 || len(module) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: module name %q", ErrBadRequest, module)
	}
	return append([]byte{byte(len(module))}, module...), nil
}

// DecodeModule is the device side of EncodeModule.
func DecodeModule(p []byte) (string, error) {
	if len(p) < 1 || len(p) < 1+int(p[0]) {
		return "", fmt.Errorf("%w: module", ErrShortPayload)
	}
	return string(p[1 : 1+int(p[0])]), nil
}

// EncodeEntries writes entry blocks as: u16 count, then per entry u16 id,
// u8 revision, u16 length and the data.
func EncodeEntries(blocks []account.VersionedBlock) ([]byte, error) {
	if len(blocks) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d entries", ErrFrameTooLarge, len(blocks))
	}
	buf := binary.LittleEndian.AppendUint16(nil, uint16(len(blocks)))
	for _, b := range blocks {
		if b.EntryID < 0 || b.EntryID > math.MaxUint16 || b.Revision < 0 || b.Revision > math.MaxUint8 || len(b.Data) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: entry %d", ErrBadRequest, b.EntryID)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(b.EntryID))
		buf = append(buf, uint8(b.Revision))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b.Data)))
		buf = append(buf, b.Data...)
	}
	return buf, nil
}

// DecodeEntries parses a read-entries response payload.
func DecodeEntries(p []byte) ([]account.VersionedBlock, error) {
	if len(p) < 2 {
		return nil, fmt.Errorf("%w: entry count", ErrShortPayload)
	}
	count := int(binary.LittleEndian.Uint16(p))
	off := 2
	out := make([]account.VersionedBlock, 0, count)
	for i := 0; i < count; i++ {
		if len(p) < off+5 {
			return nil, fmt.Errorf("%w: entry %d header", ErrShortPayload, i)
		}
		id := int(binary.LittleEndian.Uint16(p[off:]))
		rev := int(p[off+2])
		n := int(binary.LittleEndian.Uint16(p[off+3:]))
		off += 5
		if len(p) < off+n {
			return nil, fmt.Errorf("%w: entry %d data", ErrShortPayload, id)
		}
		data := make([]byte, n)
		copy(data, p[off:off+n])
		off += n
		out = append(out, account.VersionedBlock{EntryID: id, Revision: rev, Data: data})
	}
	return out, nil
}

// EncodeAddEntry builds an add-entry payload: the module as in
// EncodeModule, then u8 revision, u16 length and the data. The device
// chooses the entry id.
func EncodeAddEntry(module string, b account.VersionedBlock) ([]byte, error) {
	buf, err := EncodeModule(module)
	if err != nil {
		return nil, err
	}
	if b.Revision < 0 || b.Revision > math.MaxUint8 || len(b.Data) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: revision %d, %d bytes", ErrBadRequest, b.Revision, len(b.Data))
	}
	buf = append(buf, uint8(b.Revision))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b.Data)))
	return append(buf, b.Data...), nil
}

// DecodeAddEntry is the device side of EncodeAddEntry. The returned block
// has no entry id.
func DecodeAddEntry(p []byte) (string, account.VersionedBlock, error) {
	module, err := DecodeModule(p)
	if err != nil {
		return "", account.VersionedBlock{}, err
	}
	off := 1 + len(module)
	if len(p) < off+3 {
		return "", account.VersionedBlock{}, fmt.Errorf("%w: add-entry header", ErrShortPayload)
	}
	rev := int(p[off])
	n := int(binary.LittleEndian.Uint16(p[off+1:]))
	off += 3
	if len(p) != off+n {
		return "", account.VersionedBlock{}, fmt.Errorf("%w: add-entry data", ErrShortPayload)
	}
	data := make([]byte, n)
	copy(data, p[off:])
	return module, account.VersionedBlock{EntryID: account.ImportID, Revision: rev, Data: data}, nil
}

// DecodeEntryID parses the add-entry response.
func DecodeEntryID(p []byte) (int, error) {
	if len(p) < 2 {
		return 0, fmt.Errorf("%w: entry id", ErrShortPayload)
	}
	return int(binary.LittleEndian.Uint16(p)), nil
}
