package keyboard

import "runtime"

// ScancodeInfo is one probed key and where it sits on a US-style keyboard.
// Column counts keys from the left and Row counts from the number row, both
// 1-based; zero means the key has no grid slot.
type ScancodeInfo struct {
	Code   uint8
	Column uint8
	Row    uint8
}

// scancodeTable follows the device's scancode numbering and ends with a zero
// sentinel. Space is listed but skipped on Windows hosts.
var scancodeTable = [...]ScancodeInfo{
	{4, 2, 3},   // a
	{5, 6, 4},   // b
	{6, 4, 4},   // c
	{7, 4, 3},   // d
	{8, 4, 2},   // e
	{9, 5, 3},   // f
	{10, 6, 3},  // g
	{11, 7, 3},  // h
	{12, 9, 2},  // i
	{13, 8, 3},  // j
	{14, 9, 3},  // k
	{15, 10, 3}, // l
	{16, 8, 4},  // m
	{17, 7, 4},  // n
	{18, 10, 2}, // o
	{19, 11, 2}, // p
	{20, 2, 2},  // q
	{21, 5, 2},  // r
	{22, 3, 3},  // s
	{23, 6, 2},  // t
	{24, 8, 2},  // u
	{25, 5, 4},  // v
	{26, 3, 2},  // w
	{27, 3, 4},  // x
	{28, 7, 2},  // y
	{29, 2, 4},  // z
	{30, 2, 1},  // 1
	{31, 3, 1},  // 2
	{32, 4, 1},  // 3
	{33, 5, 1},  // 4
	{34, 6, 1},  // 5
	{35, 7, 1},  // 6
	{36, 8, 1},  // 7
	{37, 9, 1},  // 8
	{38, 10, 1}, // 9
	{39, 11, 1}, // 0
	{44, 3, 5},  // space
	{45, 12, 1}, // -_
	{46, 13, 1}, // =+
	{47, 12, 2}, // [{
	{48, 13, 2}, // ]}
	{49, 14, 2}, // \|
	{50, 13, 3}, // non-US #~
	{51, 11, 3}, // ;:
	{52, 12, 3}, // '"
	{53, 1, 1},  // `~
	{54, 9, 4},  // ,<
	{55, 10, 4}, // .>
	{56, 11, 4}, // /?
	{0, 0, 0},
}

// Grid offsets for modified keys when a layout is drawn as four grids.
const (
	ShiftRowOffset    = 6
	RightAltColOffset = 15
	GridRows          = 2 * ShiftRowOffset
	GridColumns       = 2 * RightAltColOffset
)

func probesSpace(goos string) bool {
	return goos != "windows"
}

// Table returns the probe sequence for goos, terminated by the zero sentinel.
func Table(goos string) []ScancodeInfo {
	out := make([]ScancodeInfo, 0, len(scancodeTable))
	for _, s := range scancodeTable {
		if s.Code == ScancodeSpace && !probesSpace(goos) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Probes returns the probe sequence for the running host without the sentinel.
func Probes() []ScancodeInfo {
	t := Table(runtime.GOOS)
	return t[:len(t)-1]
}

// Lookup finds the table entry for a scancode.
func Lookup(code uint8) (ScancodeInfo, bool) {
	if code == 0 {
		return ScancodeInfo{}, false
	}
	for _, s := range scancodeTable {
		if s.Code == code {
			return s, true
		}
	}
	return ScancodeInfo{}, false
}

// GridPosition returns where k is drawn: shifted keys move down by
// ShiftRowOffset rows, right-Alt keys right by RightAltColOffset columns.
func GridPosition(k PhysicalKey) (row, col int, ok bool) {
	s, found := Lookup(k.Scancode)
	if !found || s.Row == 0 || s.Column == 0 {
		return 0, 0, false
	}
	row, col = int(s.Row), int(s.Column)
	if k.Modifier&ModShift != 0 {
		row += ShiftRowOffset
	}
	if k.Modifier&ModRightAlt != 0 {
		col += RightAltColOffset
	}
	return row, col, true
}
