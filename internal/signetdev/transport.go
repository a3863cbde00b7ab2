package signetdev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"
)

// Transport names accepted in Config.
const (
	TransportAuto   = "auto"
	TransportHIDRaw = "hidraw"
	TransportSocket = "socket"
)

// USB identifiers of the Signet token.
const (
	DefaultVendorID  uint16 = 0x5E2A
	DefaultProductID uint16 = 0x0001
)

// ErrNoDevice is returned when no matching device could be opened.
var ErrNoDevice = errors.New("signetdev: no device found")

// Config selects and configures the transport.
type Config struct {
	// Transport is "hidraw", "socket" or "auto" (hidraw, then socket).
	Transport string
	// Path is a /dev/hidrawN node or a socket path. Empty scans for hidraw.
	Path string

	VendorID  uint16
	ProductID uint16

	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Dial opens the transport described by cfg.
func Dial(ctx context.Context, cfg Config) (io.ReadWriteCloser, error) {
	if cfg.VendorID == 0 {
		cfg.VendorID = DefaultVendorID
	}
	if cfg.ProductID == 0 {
		cfg.ProductID = DefaultProductID
	}

	switch cfg.Transport {
	case TransportSocket:
		return dialSocket(ctx, cfg)
	case TransportHIDRaw:
		return openHIDRaw(cfg)
	case TransportAuto, "":
		conn, err := openHIDRaw(cfg)
		if err == nil {
			return conn, nil
		}
		if cfg.Path == "" {
			return nil, err
		}
		return dialSocket(ctx, cfg)
	}
	return nil, fmt.Errorf("signetdev: unknown transport %q", cfg.Transport)
}

func dialSocket(ctx context.Context, cfg Config) (io.ReadWriteCloser, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: socket path not set", ErrNoDevice)
	}
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "unix", cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, cfg.Path)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.Path, err)
	}
	return conn, nil
}
