// Copyright 2026 The Mara Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package freespace manipulates the blocks a mara page is tiled with.
//
// A free block of payload size s with code blocks of c bytes occupies
// 2c+s bytes of the page:
//
//	| code block | next (4B) | ...... free ...... | next (4B) | code block |
//
// The next fields are little-endian offsets from the start of the page and
// chain the free blocks of one bucket. The right copy only exists when the
// payload is at least 8 bytes; below that the two positions overlap and
// only the left one is written. An occupied block has no next fields, the
// payload sits directly between the code blocks.
package freespace

import (
	"encoding/binary"

	"github.com/mara-allocator/mara/codeblock"
)

const (
	// PtrSize is the byte width of a stored next offset.
	PtrSize = 4
	// MinPayload is the smallest payload a block can have: a freed block
	// must be able to hold one next offset.
	MinPayload = PtrSize
	// MinBlock is the footprint of the smallest possible free block,
	// a one-byte code block on each side of a bare next offset.
	MinBlock = MinPayload + 2
)

// noNext is stored where a free block has no successor. Offset 0 is a
// valid block position, all ones is not: it would place a block beyond
// what a 4 byte offset can address.
const noNext = 0xffff_ffff

// Next returns the page offset of the successor of the free block at off,
// or -1 if the block is the last of its bucket.
func Next(buf []byte, off int) int {
	p := off + codeblock.BlockSize(buf, off)
	v := binary.LittleEndian.Uint32(buf[p:])
	if v == noNext {
		return -1
	}
	return int(v)
}

// WriteNext stores next (-1 for none) in the free block at off. Both
// copies are written when the payload is big enough to hold them without
// overlap.
func WriteNext(buf []byte, off, next int) {
	c := codeblock.BlockSize(buf, off)
	s := codeblock.ReadLeft(buf, off)
	v := uint32(noNext)
	if next >= 0 {
		v = uint32(next)
	}
	binary.LittleEndian.PutUint32(buf[off+c:], v)
	if s >= 2*PtrSize {
		binary.LittleEndian.PutUint32(buf[off+c+s-PtrSize:], v)
	}
}

// Footprint returns the total size of the block at off, payload plus both
// code blocks.
func Footprint(buf []byte, off int) int {
	return 2*codeblock.BlockSize(buf, off) + codeblock.ReadLeft(buf, off)
}

// RightMostEnd returns the index of the last byte of the block at off.
func RightMostEnd(buf []byte, off int) int {
	return off + Footprint(buf, off) - 1
}

// CopyBlockToEnd mirrors the c byte code block at off to the right end of
// its block.
func CopyBlockToEnd(buf []byte, off, c int) {
	s := codeblock.ReadLeft(buf, off)
	copy(buf[off+c+s:off+2*c+s], buf[off:off+c])
}

// PushBeginningRight shrinks the free block at off from the left: the
// right end stays, first becomes the new leftmost byte. The next offset
// survives the move. Returns first.
func PushBeginningRight(buf []byte, off, first int) int {
	end := RightMostEnd(buf, off)
	next := Next(buf, off)
	c := codeblock.WriteInternal(buf, first, end-first+1, true)
	CopyBlockToEnd(buf, first, c)
	WriteNext(buf, first, next)
	return first
}

// PushEndLeft shrinks the free block at off from the right: the left end
// stays, last becomes the new rightmost byte. The next offset survives.
func PushEndLeft(buf []byte, off, last int) {
	next := Next(buf, off)
	c := codeblock.WriteInternal(buf, off, last-off+1, true)
	CopyBlockToEnd(buf, off, c)
	WriteNext(buf, off, next)
}

// ToOccupied rewrites the block at off as an occupied block with the given
// payload size. The caller must have reserved size plus two code blocks.
func ToOccupied(buf []byte, off, size int) {
	c := codeblock.WritePayload(buf, off, size, false)
	CopyBlockToEnd(buf, off, c)
}

// LeftNeighbor returns the starting offset of the block whose last byte is
// at index i.
func LeftNeighbor(buf []byte, i int) int {
	s, left := codeblock.ReadRight(buf, i)
	c := i - left + 1
	return left - s - c
}
