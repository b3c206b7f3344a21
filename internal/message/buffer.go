package message

import "sync/atomic"

// Buffer is a reference-counted byte buffer shared between context clones.
// Slicing and cloning never copy the underlying bytes; the last release
// drops the backing array for the garbage collector.
type Buffer struct {
	data []byte
	refs *atomic.Int32
}

// NewBuffer wraps data in a Buffer with a reference count of one.
// The caller must not mutate data afterwards.
func NewBuffer(data []byte) *Buffer {
	refs := &atomic.Int32{}
	refs.Store(1)
	return &Buffer{data: data, refs: refs}
}

// Retain increments the reference count and returns the same buffer.
func (b *Buffer) Retain() *Buffer {
	if b == nil {
		return nil
	}
	b.refs.Add(1)
	return b
}

// Release decrements the reference count. When it reaches zero the
// backing slice is detached so the memory can be reclaimed.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	if b.refs.Add(-1) == 0 {
		b.data = nil
	}
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int32 {
	if b == nil {
		return 0
	}
	return b.refs.Load()
}

// Bytes returns the underlying bytes. Callers must treat the slice as
// read-only.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len returns the payload length in bytes.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Slice returns a zero-copy view of [start, end) sharing the reference
// count with the parent buffer.
func (b *Buffer) Slice(start, end int) *Buffer {
	b.refs.Add(1)
	return &Buffer{data: b.data[start:end], refs: b.refs}
}

// HasPrefix reports whether the buffer starts with prefix.
func (b *Buffer) HasPrefix(prefix []byte) bool {
	if b.Len() < len(prefix) {
		return false
	}
	for i := range prefix {
		if b.data[i] != prefix[i] {
			return false
		}
	}
	return true
}
