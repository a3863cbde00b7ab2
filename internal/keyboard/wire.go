package keyboard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// EntrySize is the size of one layout entry on the device: a 16-bit code
// point followed by two (modifier, scancode) pairs.
const EntrySize = 6

// Errors returned by the layout codec.
var (
	ErrBadLayout   = errors.New("keyboard: malformed layout")
	ErrUnencodable = errors.New("keyboard: character outside device range")
)

// MarshalBinary encodes the layout in the device wire form.
func (l Layout) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, len(l)*EntrySize)
	for _, e := range l {
		if e.Char < 0 || e.Char > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %U", ErrUnencodable, e.Char)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(e.Char))
		for _, k := range e.Keys {
			buf = append(buf, k.Modifier, k.Scancode)
		}
	}
	return buf, nil
}

// UnmarshalBinary decodes the device wire form.
func (l *Layout) UnmarshalBinary(data []byte) error {
	if len(data)%EntrySize != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrBadLayout, len(data), EntrySize)
	}
	out := make(Layout, 0, len(data)/EntrySize)
	for off := 0; off < len(data); off += EntrySize {
		var e LayoutEntry
		e.Char = rune(binary.LittleEndian.Uint16(data[off:]))
		e.Keys[0] = PhysicalKey{Modifier: data[off+2], Scancode: data[off+3]}
		e.Keys[1] = PhysicalKey{Modifier: data[off+4], Scancode: data[off+5]}
		out = append(out, e)
	}
	*l = out
	return nil
}

// yamlEntry is the human readable export form of a LayoutEntry.
type yamlEntry struct {
	Char string        `yaml:"char"`
	Keys []PhysicalKey `yaml:"keys,flow"`
}

// MarshalYAML writes each entry as its character and the keys actually used.
func (l Layout) MarshalYAML() (any, error) {
	out := make([]yamlEntry, 0, len(l))
	for _, e := range l {
		ye := yamlEntry{Char: string(e.Char), Keys: []PhysicalKey{e.Keys[0]}}
		if e.Composed() {
			ye.Keys = append(ye.Keys, e.Keys[1])
		}
		out = append(out, ye)
	}
	return out, nil
}

// UnmarshalYAML reads the export form back.
func (l *Layout) UnmarshalYAML(node *yaml.Node) error {
	var in []yamlEntry
	if err := node.Decode(&in); err != nil {
		return err
	}
	out := make(Layout, 0, len(in))
	for i, ye := range in {
		r := []rune(ye.Char)
		if len(r) != 1 || len(ye.Keys) == 0 || len(ye.Keys) > 2 {
			return fmt.Errorf("%w: entry %d", ErrBadLayout, i)
		}
		e := LayoutEntry{Char: r[0]}
		copy(e.Keys[:], ye.Keys)
		out = append(out, e)
	}
	*l = out
	return nil
}

// ExportYAML renders the layout for `signetctl keyboard export`.
func ExportYAML(l Layout) ([]byte, error) {
	return yaml.Marshal(l)
}

// ImportYAML parses a layout written by ExportYAML.
func ImportYAML(data []byte) (Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return l, nil
}
