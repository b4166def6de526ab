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

// Package bucket implements the segregated free list of a mara page.
//
// Each bucket is the head of a singly linked list of free blocks of one
// size class, chained through the next offsets stored in the blocks
// themselves (see package freespace). Size classes grow linearly in steps
// of 4 up to 32 bytes, linearly in steps of 16 up to 128 bytes, then by
// powers of two up to 1024 bytes; everything larger lands in one overflow
// bucket.
package bucket

import (
	"math/bits"

	"github.com/mara-allocator/mara/codeblock"
	"github.com/mara-allocator/mara/internal/freespace"
)

const (
	lastLinear4  = 32
	lastLinear16 = 128
	largest      = 1024
)

// Count is the number of buckets: the linear-4 classes, the linear-16
// classes, the power-of-two classes and the overflow bucket.
const Count = lastLinear4/4 +
	(lastLinear16-lastLinear4+4)/16 +
	(log2of1024-log2of128) +
	1

const (
	log2of128  = 7
	log2of1024 = 10
)

// Lookup returns the bucket index for a block of the given payload size.
func Lookup(size int) int {
	switch {
	case size <= lastLinear4:
		return (size - 1) / 4
	case size <= lastLinear16:
		return lastLinear4/4 + (size-lastLinear4-1)/16
	case size <= largest:
		return Lookup(lastLinear16) + 1 + log2(size-1) - log2(lastLinear16)
	default:
		return Count - 1
	}
}

func log2(x int) int {
	return bits.Len(uint(x)) - 1
}

// List is the bucket table of one page. Heads are page offsets, -1 marks
// an empty bucket.
type List struct {
	heads [Count]int
}

// NewList returns a bucket list with every bucket empty. The zero value is
// not usable: offset 0 is a valid block position.
func NewList() *List {
	l := &List{}
	for i := range l.heads {
		l.heads[i] = -1
	}
	return l
}

// Head returns the first block of the given bucket, or -1.
func (l *List) Head(i int) int {
	return l.heads[i]
}

// FindSpace returns the offset of a free block with a payload of at least
// size bytes, or -1 if no bucket holds one. The list itself is not
// altered. Search starts at the block's own size class and walks upward;
// within a bucket the first fit wins.
func (l *List) FindSpace(buf []byte, size int) int {
	for i := Lookup(size); i < Count; i++ {
		for off := l.heads[i]; off >= 0; off = freespace.Next(buf, off) {
			if codeblock.ReadLeft(buf, off) >= size {
				return off
			}
		}
	}
	return -1
}

// Add links the free block at off into the bucket of its size class, at
// the head of the list. The block's next offset is overwritten.
func (l *List) Add(buf []byte, off int) {
	i := Lookup(codeblock.ReadLeft(buf, off))
	freespace.WriteNext(buf, off, l.heads[i])
	l.heads[i] = off
}

// Remove unlinks the free block at off. Returns false if the block was not
// in its bucket, which means the list and the arena disagree.
func (l *List) Remove(buf []byte, off int) bool {
	in, pred := l.Contains(buf, off)
	if !in {
		return false
	}
	next := freespace.Next(buf, off)
	if pred < 0 {
		l.heads[Lookup(codeblock.ReadLeft(buf, off))] = next
	} else {
		freespace.WriteNext(buf, pred, next)
	}
	return true
}

// Contains reports whether the free block at off is linked in its bucket,
// along with its predecessor in the chain (-1 if off is the head).
func (l *List) Contains(buf []byte, off int) (in bool, pred int) {
	pred = -1
	cur := l.heads[Lookup(codeblock.ReadLeft(buf, off))]
	for cur >= 0 {
		if cur == off {
			return true, pred
		}
		pred = cur
		cur = freespace.Next(buf, cur)
	}
	return false, -1
}
