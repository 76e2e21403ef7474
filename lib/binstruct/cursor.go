// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct

import "fmt"

// Cursor walks a byte slice that holds a sequence of fixed-size
// records whose count isn't known until a header earlier in the same
// slice has been decoded — ISW's device table, ASR's extended
// config-line table, and DDF1's variable-length section directory all
// have this shape.
type Cursor struct {
	dat []byte
	pos int
}

func NewCursor(dat []byte) *Cursor {
	return &Cursor{dat: dat}
}

// Pos returns the cursor's current byte offset from the start of the
// slice it was built from.
func (c *Cursor) Pos() int { return c.pos }

// Seek moves the cursor to an absolute offset.
func (c *Cursor) Seek(off int) {
	c.pos = off
}

// Remaining reports how many bytes are left to read.
func (c *Cursor) Remaining() int {
	return len(c.dat) - c.pos
}

// Next unmarshals one record into dstPtr and advances the cursor by
// the number of bytes it consumed.
func (c *Cursor) Next(dstPtr any) error {
	if c.pos > len(c.dat) {
		return fmt.Errorf("binstruct.Cursor.Next: cursor past end of buffer (pos=%d len=%d)", c.pos, len(c.dat))
	}
	n, err := Unmarshal(c.dat[c.pos:], dstPtr)
	c.pos += n
	if err != nil {
		return fmt.Errorf("binstruct.Cursor.Next: %w", err)
	}
	return nil
}

// Bytes returns the next n raw bytes without interpreting them, and
// advances the cursor.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if c.pos+n > len(c.dat) {
		return nil, fmt.Errorf("binstruct.Cursor.Bytes: need %d bytes at pos=%d but only have %d", n, c.pos, len(c.dat))
	}
	ret := c.dat[c.pos : c.pos+n]
	c.pos += n
	return ret, nil
}
