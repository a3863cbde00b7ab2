//go:build linux

package signetdev

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// hidiocgrawinfo is _IOR('H', 0x03, struct hidraw_devinfo).
const hidiocgrawinfo = 0x80084803

// hidrawDevinfo mirrors struct hidraw_devinfo.
type hidrawDevinfo struct {
	Bustype uint32
	Vendor  int16
	Product int16
}

func hidrawInfo(f *os.File) (vendor, product uint16, err error) {
	var info hidrawDevinfo
	conn, err := f.SyscallConn()
	if err != nil {
		return 0, 0, err
	}
	var errno unix.Errno
	ctlErr := conn.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, hidiocgrawinfo, uintptr(unsafe.Pointer(&info)))
	})
	if ctlErr != nil {
		return 0, 0, ctlErr
	}
	if errno != 0 {
		return 0, 0, errno
	}
	return uint16(info.Vendor), uint16(info.Product), nil
}

// openHIDRaw opens cfg.Path, or the first /dev/hidraw* node whose USB ids
// match, and takes an exclusive lock on it.
func openHIDRaw(cfg Config) (io.ReadWriteCloser, error) {
	candidates := []string{cfg.Path}
	if cfg.Path == "" {
		matches, err := filepath.Glob("/dev/hidraw*")
		if err != nil {
			return nil, err
		}
		candidates = matches
	}

	for _, path := range candidates {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			if cfg.Path != "" {
				return nil, fmt.Errorf("open %s: %w", path, err)
			}
			continue
		}
		vendor, product, err := hidrawInfo(f)
		if err != nil || vendor != cfg.VendorID || product != cfg.ProductID {
			f.Close()
			if cfg.Path != "" {
				if err == nil {
					err = fmt.Errorf("%w: %s is %04x:%04x", ErrNoDevice, path, vendor, product)
				}
				return nil, err
			}
			continue
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			return nil, fmt.Errorf("%s in use: %w", path, err)
		}
		return newReportConn(f), nil
	}
	return nil, fmt.Errorf("%w: %04x:%04x", ErrNoDevice, cfg.VendorID, cfg.ProductID)
}
