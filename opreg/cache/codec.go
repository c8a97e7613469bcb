package cache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Upper bounds applied while decoding so a corrupt length cannot trigger a
// huge allocation.
const (
	maxStringLen = 1 << 16
	maxCount     = 1 << 22
)

var errCorrupt = errors.New("corrupt snapshot")

// encoder writes little-endian fields. The first error sticks and later
// writes are no-ops.
type encoder struct {
	w   *bufio.Writer
	err error
}

func newEncoder(w io.Writer) *encoder { return &encoder{w: bufio.NewWriter(w)} }

func (e *encoder) raw(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *encoder) u8(v uint8) { e.raw([]byte{v}) }

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.raw(b[:])
}

func (e *encoder) i64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	e.raw(b[:])
}

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) str(s string) {
	if len(s) > maxStringLen && e.err == nil {
		e.err = fmt.Errorf("string of %d bytes exceeds snapshot limit", len(s))
		return
	}
	e.u32(uint32(len(s)))
	e.raw([]byte(s))
}

func (e *encoder) strs(ss []string) {
	e.u32(uint32(len(ss)))
	for _, s := range ss {
		e.str(s)
	}
}

func (e *encoder) ints(v []int) {
	e.u32(uint32(len(v)))
	for _, x := range v {
		e.u32(uint32(x))
	}
}

func (e *encoder) flush() error {
	if e.err == nil {
		e.err = e.w.Flush()
	}
	return e.err
}

// decoder mirrors encoder with the same sticky error behaviour.
type decoder struct {
	r   *bufio.Reader
	err error
}

func newDecoder(r io.Reader) *decoder { return &decoder{r: bufio.NewReader(r)} }

func (d *decoder) raw(n int) []byte {
	if d.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = fmt.Errorf("%w: %v", errCorrupt, err)
		return nil
	}
	return b
}

func (d *decoder) u8() uint8 {
	b := d.raw(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.raw(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) i64() int64 {
	b := d.raw(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (d *decoder) bool() bool {
	switch d.u8() {
	case 0:
		return false
	case 1:
		return true
	default:
		if d.err == nil {
			d.err = fmt.Errorf("%w: bad bool", errCorrupt)
		}
		return false
	}
}

func (d *decoder) count() int {
	n := d.u32()
	if n > maxCount {
		if d.err == nil {
			d.err = fmt.Errorf("%w: count %d", errCorrupt, n)
		}
		return 0
	}
	return int(n)
}

func (d *decoder) str() string {
	n := d.u32()
	if n > maxStringLen {
		if d.err == nil {
			d.err = fmt.Errorf("%w: string length %d", errCorrupt, n)
		}
		return ""
	}
	return string(d.raw(int(n)))
}

func (d *decoder) strs() []string {
	n := d.count()
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, d.str())
	}
	return out
}

func (d *decoder) ints() []int {
	n := d.count()
	out := make([]int, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, int(d.u32()))
	}
	return out
}

// end reports trailing bytes as corruption.
func (d *decoder) end() error {
	if d.err != nil {
		return d.err
	}
	if _, err := d.r.ReadByte(); err != io.EOF {
		return fmt.Errorf("%w: trailing data", errCorrupt)
	}
	return nil
}
