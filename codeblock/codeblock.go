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

// Package codeblock implements the variable-length block header used to
// delimit every block in a mara arena.
//
// A code block consists of one or more bytes. The high bit of each byte
// drives a small automaton that decides whether more bytes belong to the
// block; the second bit of the first byte is the free bit; the remaining
// bits encode the size of the memory block the header describes.
//
// If the size fits in 6 bits, a single byte is used and its high bit is 1.
// Otherwise the high bit of the first byte is 0, every intermediate byte
// has its high bit set, and the terminal byte has it clear.
//
// Examples (f = free bit, x = size bit, | = byte delimiter):
//
//	size < 2^6:            1fxxxxxx
//	size < 2^13:           0fxxxxxx | 0xxxxxxx
//	size >= 2^13:          0fxxxxxx | 1xxxxxxx | 0xxxxxxx
//	                       0fxxxxxx | 1xxxxxxx | 1xxxxxxx | 0xxxxxxx
//	                       ...
//
// Every block carries two mirrored code blocks, one at each end, so that
// both a block and its left neighbor can be found from either side. All
// functions take the arena and a byte index; none of them allocate. They
// panic if the index runs outside the buffer, which in a consistent arena
// cannot happen.
package codeblock

const (
	// freeBit marks the described block as free. Only meaningful in the
	// leftmost byte of a code block.
	freeBit = 0x40
	// sizeBit is the automaton bit: set on a single-byte block and on the
	// intermediate bytes of a multi-byte block.
	sizeBit = 0x80

	firstMask = 0x3f // size bits in the first byte
	restMask  = 0x7f // size bits in every other byte
)

// ReadLeft decodes the size of the memory block whose code block starts at
// index i, reading left to right.
func ReadLeft(buf []byte, i int) int {
	if buf[i]&sizeBit != 0 {
		return int(buf[i] & firstMask)
	}
	size := int(buf[i] & firstMask)
	for i++; buf[i]&sizeBit != 0; i++ {
		size = size<<7 | int(buf[i]&restMask)
	}
	return size<<7 | int(buf[i]&restMask)
}

// ReadRight decodes a code block ending at index i, reading right to left.
// It returns the size of the memory block and the index of the code
// block's leftmost byte.
func ReadRight(buf []byte, i int) (size, left int) {
	if buf[i]&sizeBit != 0 {
		return int(buf[i] & firstMask), i
	}
	size = int(buf[i] & restMask)
	shift := uint(7)
	left = i - 1
	for buf[left]&sizeBit != 0 {
		size |= int(buf[left]&restMask) << shift
		shift += 7
		left--
	}
	size |= int(buf[left]&firstMask) << shift
	return size, left
}

// BlockSize returns the byte length of the code block starting at index i.
func BlockSize(buf []byte, i int) int {
	if buf[i]&sizeBit != 0 {
		return 1
	}
	n := 2
	for i++; buf[i]&sizeBit != 0; i++ {
		n++
	}
	return n
}

// NeededSize returns how many bytes a code block needs to encode the given
// memory block size.
func NeededSize(size int) int {
	if size < 1<<6 {
		return 1
	}
	n := 1
	for size >>= 6; size != 0; size >>= 7 {
		n++
	}
	return n
}

// WritePayload encodes a code block for a payload of the given size,
// starting at index i, and returns the number of bytes written. Used when
// occupying a block: the caller reserves size plus two code blocks.
func WritePayload(buf []byte, i, size int, free bool) int {
	n := NeededSize(size)
	write(buf, i, size, free, n)
	return n
}

// WriteInternal encodes a code block for a region whose total size,
// including both code blocks, is fixed. It picks the smallest code block
// length n such that total minus 2n still fits in n bytes, encodes
// total-2n, and returns n. Used when carving free spaces, whose boundaries
// are dictated by the surrounding blocks rather than by a payload.
func WriteInternal(buf []byte, i, total int, free bool) int {
	n := 1
	for NeededSize(total-2*n) > n {
		n++
	}
	write(buf, i, total-2*n, free, n)
	return n
}

// IsFree reports whether the code block starting at index i describes
// a free block.
func IsFree(buf []byte, i int) bool {
	return buf[i]&freeBit != 0
}

// SetFree sets or clears the free bit of the code block starting at
// index i. The size encoding is left untouched.
func SetFree(buf []byte, i int, free bool) {
	if free {
		buf[i] |= freeBit
	} else {
		buf[i] &^= freeBit
	}
}

// write encodes size into exactly n bytes starting at i. The bytes are
// laid down right to left: the terminal byte takes the low 7 bits, the
// intermediate bytes 7 bits each with the automaton bit set, and the
// first byte the remaining 6 bits plus the free bit.
func write(buf []byte, i, size int, free bool, n int) {
	if n == 1 {
		buf[i] = byte(size) | sizeBit
		SetFree(buf, i, free)
		return
	}
	for j := i + n - 1; j > i; j-- {
		if j == i+n-1 {
			buf[j] = byte(size & restMask)
		} else {
			buf[j] = byte(size&restMask) | sizeBit
		}
		size >>= 7
	}
	buf[i] = byte(size & firstMask)
	SetFree(buf, i, free)
}
