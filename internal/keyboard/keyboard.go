// Package keyboard describes how characters map to physical keys on the
// host keyboard as seen by the Signet token.
//
// The token types by emitting raw HID scancodes with a modifier mask. A
// Layout records, for each character, the one or two key presses needed to
// produce it. The second press is only used for dead keys that compose with
// a following space.
package keyboard

import (
	"fmt"
	"strconv"
)

// Modifier masks as sent to the device.
const (
	ModNone     uint8 = 0x00
	ModShift    uint8 = 0x02
	ModRightAlt uint8 = 0x40
)

// Fixed scancodes seeded into every calibrated layout.
const (
	ScancodeEnter uint8 = 40
	ScancodeTab   uint8 = 43
	ScancodeSpace uint8 = 44
)

// PhysicalKey is a scancode pressed together with a modifier mask.
type PhysicalKey struct {
	Modifier uint8 `json:"modifier" yaml:"modifier"`
	Scancode uint8 `json:"scancode" yaml:"scancode"`
}

// IsZero reports whether k is the empty key.
func (k PhysicalKey) IsZero() bool {
	return k.Scancode == 0 && k.Modifier == 0
}

func (k PhysicalKey) String() string {
	s := strconv.Itoa(int(k.Scancode))
	if k.Modifier&ModShift != 0 {
		s = "shift+" + s
	}
	if k.Modifier&ModRightAlt != 0 {
		s = "ralt+" + s
	}
	return s
}

// LayoutEntry maps one character to the key presses that produce it.
type LayoutEntry struct {
	Char rune
	Keys [2]PhysicalKey
}

// Composed reports whether the character needs a second key press.
func (e LayoutEntry) Composed() bool {
	return !e.Keys[1].IsZero()
}

func (e LayoutEntry) String() string {
	if e.Composed() {
		return fmt.Sprintf("%q=%s,%s", e.Char, e.Keys[0], e.Keys[1])
	}
	return fmt.Sprintf("%q=%s", e.Char, e.Keys[0])
}

// Layout is an ordered character to key mapping.
type Layout []LayoutEntry

// Lookup returns the first entry for r.
func (l Layout) Lookup(r rune) (LayoutEntry, bool) {
	for _, e := range l {
		if e.Char == r {
			return e, true
		}
	}
	return LayoutEntry{}, false
}

// Clone returns an independent copy.
func (l Layout) Clone() Layout {
	if l == nil {
		return nil
	}
	out := make(Layout, len(l))
	copy(out, l)
	return out
}

// Seed returns the entries every calibration starts from: tab and enter,
// plus space on hosts where space is not probed.
func Seed(goos string) Layout {
	l := Layout{
		{Char: '\t', Keys: [2]PhysicalKey{{Scancode: ScancodeTab}}},
		{Char: '\n', Keys: [2]PhysicalKey{{Scancode: ScancodeEnter}}},
	}
	if !probesSpace(goos) {
		l = append(l, LayoutEntry{Char: ' ', Keys: [2]PhysicalKey{{Scancode: ScancodeSpace}}})
	}
	return l
}

// Passes returns the modifier passes a calibration runs through, in order.
// Right-Alt passes are left out when the host treats right-Alt as a plain
// modifier.
func Passes(skipRightAlt bool) []uint8 {
	if skipRightAlt {
		return []uint8{ModNone, ModShift}
	}
	return []uint8{ModNone, ModShift, ModRightAlt, ModShift | ModRightAlt}
}
