//go:build !linux

package hostkbd

// Detect returns the inspector for this host. Without a keymap service the
// right-Alt passes are always probed.
func Detect() Static {
	return Static(false)
}
