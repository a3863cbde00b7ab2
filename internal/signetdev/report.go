package signetdev

import (
	"fmt"
	"io"
	"sync"
)

// ReportSize is the HID report size of the token, report id included.
const ReportSize = 64

// reportPayload is the frame bytes carried by one report: byte 0 is the
// report id and byte 1 the number of valid bytes that follow.
const reportPayload = ReportSize - 2

// reportConn carries a frame byte stream over fixed-size HID reports.
type reportConn struct {
	dev io.ReadWriteCloser

	rmu  sync.Mutex
	rbuf []byte

	wmu sync.Mutex
}

func newReportConn(dev io.ReadWriteCloser) *reportConn {
	return &reportConn{dev: dev}
}

// Write splits p into reports. Each Write call sends whole reports.
func (c *reportConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	report := make([]byte, ReportSize)
	written := 0
	for written < len(p) {
		n := copy(report[2:], p[written:])
		report[0] = 0
		report[1] = byte(n)
		clear(report[2+n:])
		if _, err := c.dev.Write(report); err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Read returns bytes from buffered reports, reading a new report when empty.
func (c *reportConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for len(c.rbuf) == 0 {
		report := make([]byte, ReportSize)
		n, err := c.dev.Read(report)
		if err != nil {
			return 0, err
		}
		if n < 2 {
			continue
		}
		valid := int(report[1])
		if valid > n-2 || valid > reportPayload {
			return 0, fmt.Errorf("%w: report claims %d bytes", ErrShortPayload, valid)
		}
		c.rbuf = append(c.rbuf[:0], report[2:2+valid]...)
	}
	n := copy(p, c.rbuf)
	c.rbuf = c.rbuf[n:]
	return n, nil
}

func (c *reportConn) Close() error {
	return c.dev.Close()
}
