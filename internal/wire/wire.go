// Package wire frames fixed-length integer and byte arrays over a single
// ordered, reliable stream shared by the two parties.
//
// A frame is a big-endian uint32 element count followed by the payload.
// Receivers always know how many elements they expect, so the count only
// serves to catch two parties that disagree on an array length.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/alecthomas/unsafeslice"
)

// MaxFrameLen bounds the element count of a single frame.
const MaxFrameLen = 1 << 30

var (
	ErrLengthMismatch = fmt.Errorf("peer sent an array of unexpected length")
	ErrFrameTooLarge  = fmt.Errorf("frame exceeds %d elements", MaxFrameLen)
)

// Conn is a framed, buffered and byte-counting view over rw.
type Conn struct {
	r *bufio.Reader
	w *bufio.Writer

	sent     uint64
	received uint64
}

// NewConn wraps rw.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		r: bufio.NewReaderSize(rw, 1<<16),
		w: bufio.NewWriterSize(rw, 1<<16),
	}
}

func (c *Conn) writeHeader(n int) error {
	if n > MaxFrameLen {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(n))
	_, err := c.w.Write(hdr[:])
	return err
}

func (c *Conn) readHeader(want int) error {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return err
	}
	atomic.AddUint64(&c.received, 4)
	if got := int(binary.BigEndian.Uint32(hdr[:])); got != want {
		return fmt.Errorf("%w: want %d, got %d", ErrLengthMismatch, want, got)
	}
	return nil
}

// WriteUint64s sends v as one frame and flushes it.
func (c *Conn) WriteUint64s(v []uint64) error {
	if err := c.writeHeader(len(v)); err != nil {
		return err
	}
	if len(v) > 0 {
		if _, err := c.w.Write(unsafeslice.ByteSliceFromUint64Slice(v)); err != nil {
			return err
		}
	}
	atomic.AddUint64(&c.sent, uint64(4+8*len(v)))
	return c.w.Flush()
}

// ReadUint64s reads one frame of exactly n values.
func (c *Conn) ReadUint64s(n int) ([]uint64, error) {
	if err := c.readHeader(n); err != nil {
		return nil, err
	}
	if n == 0 {
		return []uint64{}, nil
	}
	b := make([]byte, 8*n)
	if _, err := io.ReadFull(c.r, b); err != nil {
		return nil, err
	}
	atomic.AddUint64(&c.received, uint64(len(b)))
	return unsafeslice.Uint64SliceFromByteSlice(b), nil
}

// WriteBytes sends b as one frame and flushes it.
func (c *Conn) WriteBytes(b []byte) error {
	if err := c.writeHeader(len(b)); err != nil {
		return err
	}
	if _, err := c.w.Write(b); err != nil {
		return err
	}
	atomic.AddUint64(&c.sent, uint64(4+len(b)))
	return c.w.Flush()
}

// ReadBytes reads one frame of exactly n bytes.
func (c *Conn) ReadBytes(n int) ([]byte, error) {
	if err := c.readHeader(n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(c.r, b); err != nil {
		return nil, err
	}
	atomic.AddUint64(&c.received, uint64(n))
	return b, nil
}

// Stats returns the number of bytes written and read so far.
func (c *Conn) Stats() (sent, received uint64) {
	return atomic.LoadUint64(&c.sent), atomic.LoadUint64(&c.received)
}

// ResetStats zeroes the byte counters.
func (c *Conn) ResetStats() {
	atomic.StoreUint64(&c.sent, 0)
	atomic.StoreUint64(&c.received, 0)
}
