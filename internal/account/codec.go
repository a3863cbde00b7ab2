package account

import (
	"encoding/binary"
	"fmt"
	"math"
)

// blockReader walks a little-endian entry block. The first short read sets
// err and every later read returns zero values.
type blockReader struct {
	data []byte
	off  int
	err  error
}

func newBlockReader(data []byte) *blockReader {
	return &blockReader{data: data}
}

func (r *blockReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedBlock, n, r.off, len(r.data))
		return false
	}
	return true
}

func (r *blockReader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *blockReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *blockReader) bytes(n int) string {
	if !r.need(n) {
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

func (r *blockReader) str8() string  { return r.bytes(int(r.u8())) }
func (r *blockReader) str16() string { return r.bytes(int(r.u16())) }

func (r *blockReader) fields(count int) Fields {
	if count == 0 || r.err != nil {
		return nil
	}
	out := make(Fields, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		name := r.str16()
		value := r.str16()
		out = append(out, GenericField{Name: name, Value: value})
	}
	return out
}

// blockWriter builds a little-endian entry block.
type blockWriter struct {
	buf []byte
	err error
}

func (w *blockWriter) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *blockWriter) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *blockWriter) str8(s string) {
	if len(s) > math.MaxUint8 {
		w.fail(s)
		return
	}
	w.u8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *blockWriter) str16(s string) {
	if len(s) > math.MaxUint16 {
		w.fail(s)
		return
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *blockWriter) fields(f Fields) {
	for _, g := range f {
		w.str16(g.Name)
		w.str16(g.Value)
	}
}

func (w *blockWriter) fail(s string) {
	if w.err == nil {
		w.err = fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(s))
	}
}
