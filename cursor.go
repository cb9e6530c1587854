package dissect

import "encoding/binary"

// Cursor is a bounds-checked read position over a captured frame. It borrows
// the frame's bytes and must not outlive them. Reads are big-endian (network
// order) and advance the position only on success; a failed read reports how
// many bytes were missing and leaves the position untouched.
type Cursor struct {
	data []byte
	pos  int
}

// NewCursor returns a cursor positioned at the start of data.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Remaining reports how many unread bytes are left.
func (c *Cursor) Remaining() int {
	return len(c.data) - c.pos
}

// Offset reports the current position from the start of the frame.
func (c *Cursor) Offset() int {
	return c.pos
}

// need checks that n bytes are available without advancing.
func (c *Cursor) need(n int) error {
	if short := n - c.Remaining(); short > 0 {
		return &TruncatedError{Shortfall: short}
	}
	return nil
}

// Uint8 reads one byte.
func (c *Cursor) Uint8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.data[c.pos]
	c.pos++
	return v, nil
}

// Uint16 reads two bytes in network order.
func (c *Cursor) Uint16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return v, nil
}

// Uint32 reads four bytes in network order.
func (c *Cursor) Uint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

// Skip advances past n bytes without reading them.
func (c *Cursor) Skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.pos += n
	return nil
}

// Slice consumes n bytes and returns them. The returned slice shares the
// frame's backing array; callers must treat it as read-only.
func (c *Cursor) Slice(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Peek returns the next n bytes without advancing.
func (c *Cursor) Peek(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	return c.data[c.pos : c.pos+n], nil
}
