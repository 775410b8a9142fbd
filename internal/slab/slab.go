// Package slab implements a fixed-block-size freelist allocator: one
// or more backing pools, each divided into block_size chunks, with
// pools ordered so that the one most recently seen to have free space
// is searched first.
//
// A freelist threaded through the raw blocks themselves would need
// unsafe pointer-chasing; this keeps a side freelist
// of block indices per pool instead,
// since Go has no safe way to store a pointer inside an arbitrary
// byte range it doesn't own as a typed value — the shuffle-to-front
// search order and growth/shrink behavior are otherwise unchanged.
package slab

import "unsafe"

func ptrOffset(base, target *byte) int {
	return int(uintptr(unsafe.Pointer(target)) - uintptr(unsafe.Pointer(base)))
}

// pool_t is one backing region subdivided into fixed-size blocks.
type pool_t struct {
	buf       []byte
	blockSize int
	capacity  int
	free      []int // stack of free block indices
	next      *pool_t
}

func newPool(buf []byte, blockSize int) *pool_t {
	capacity := len(buf) / blockSize
	free := make([]int, capacity)
	for i := range free {
		free[i] = capacity - 1 - i
	}
	return &pool_t{buf: buf, blockSize: blockSize, capacity: capacity, free: free}
}

func (p *pool_t) block(i int) []byte {
	return p.buf[i*p.blockSize : (i+1)*p.blockSize]
}

// shuffleThreshold matches SLAB_SHUFFLE_THRESHOLD: a quarter of
// capacity headroom over the current head pool's free count.
func shuffleThreshold(head *pool_t) int {
	return len(head.free) + head.capacity/4
}

func shuffle(head **pool_t, this, prev *pool_t) {
	prev.next = this.next
	this.next = *head
	*head = this
}

// Slab_t is a chain of pools, all sharing the same block size.
type Slab_t struct {
	head      *pool_t
	blockSize int
}

// Init creates a slab from a single caller-supplied buffer (used
// when a slab must not itself call into the allocator it is part
// of, e.g. bootstrap slabs carved out by pmap_steal_memory).
func Init(buf []byte, blockSize int) *Slab_t {
	return &Slab_t{head: newPool(buf, blockSize), blockSize: blockSize}
}

// Alloc returns a zero-length-checked block, or nil if every pool is
// full.
func (s *Slab_t) Alloc() []byte {
	var prev *pool_t
	for this := s.head; this != nil; prev, this = this, this.next {
		if len(this.free) == 0 {
			continue
		}

		idx := this.free[len(this.free)-1]
		this.free = this.free[:len(this.free)-1]

		if prev != nil {
			shuffle(&s.head, this, prev)
		}

		return this.block(idx)
	}
	return nil
}

// Zalloc allocates a block and zeroes it.
func (s *Slab_t) Zalloc() []byte {
	b := s.Alloc()
	if b != nil {
		for i := range b {
			b[i] = 0
		}
	}
	return b
}

// Free returns block to whichever pool owns it.
func (s *Slab_t) Free(block []byte) {
	var prev *pool_t
	for this := s.head; this != nil; prev, this = this, this.next {
		base := &this.buf[0]
		blockBase := &block[0]
		offset := ptrOffset(base, blockBase)
		if offset < 0 || offset >= len(this.buf) {
			continue
		}

		idx := offset / this.blockSize
		this.free = append(this.free, idx)

		if prev != nil && len(this.free) > shuffleThreshold(s.head) {
			shuffle(&s.head, this, prev)
		}
		return
	}
	panic("slab: free of block not owned by this slab")
}

// Grow adds another backing pool to the chain, searched first.
func (s *Slab_t) Grow(buf []byte) {
	p := newPool(buf, s.blockSize)
	p.next = s.head
	s.head = p
}

// Shrink unlinks and returns the first fully-free pool's backing
// buffer, or nil if none is fully free.
func (s *Slab_t) Shrink() []byte {
	var prev *pool_t
	for this := s.head; this != nil; prev, this = this, this.next {
		if len(this.free) == this.capacity {
			if prev != nil {
				prev.next = this.next
			} else {
				s.head = this.next
			}
			return this.buf
		}
	}
	return nil
}
