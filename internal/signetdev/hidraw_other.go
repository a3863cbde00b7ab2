//go:build !linux

package signetdev

import (
	"fmt"
	"io"
	"runtime"
)

func openHIDRaw(cfg Config) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("%w: hidraw is not available on %s", ErrNoDevice, runtime.GOOS)
}
