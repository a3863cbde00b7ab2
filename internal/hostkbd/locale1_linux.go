//go:build linux

package hostkbd

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// systemd-localed D-Bus names
const (
	Locale1Service   = "org.freedesktop.locale1"
	Locale1Path      = "/org/freedesktop/locale1"
	Locale1Interface = "org.freedesktop.locale1"
)

// Locale1 reads the X11 keymap from systemd-localed over the system bus.
type Locale1 struct {
	// Conn is used when set; otherwise the shared system bus is used.
	Conn *dbus.Conn
}

// Keymap fetches the X11Layout, X11Variant and X11Options properties.
func (l Locale1) Keymap() (KeymapInfo, error) {
	conn := l.Conn
	if conn == nil {
		var err error
		conn, err = dbus.SystemBus()
		if err != nil {
			return KeymapInfo{}, fmt.Errorf("connect system bus: %w", err)
		}
	}

	obj := conn.Object(Locale1Service, dbus.ObjectPath(Locale1Path))
	var info KeymapInfo
	for _, p := range []struct {
		name string
		dst  *string
	}{
		{"X11Layout", &info.Layout},
		{"X11Variant", &info.Variant},
		{"X11Options", &info.Options},
	} {
		v, err := obj.GetProperty(Locale1Interface + "." + p.name)
		if err != nil {
			return KeymapInfo{}, fmt.Errorf("read %s: %w", p.name, err)
		}
		if err := v.Store(p.dst); err != nil {
			return KeymapInfo{}, fmt.Errorf("decode %s: %w", p.name, err)
		}
	}
	return info, nil
}

// RightAltIsModifier implements calibrate.Inspector.
func (l Locale1) RightAltIsModifier() (bool, error) {
	info, err := l.Keymap()
	if err != nil {
		return false, err
	}
	return info.RightAltIsModifier(), nil
}

// Detect returns the inspector for this host.
func Detect() Locale1 {
	return Locale1{}
}
