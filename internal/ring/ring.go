// Package ring implements a lock-free single-producer single-consumer byte
// ring buffer. One goroutine may write while another reads without locking;
// everything else (Reset, multiple writers) needs external synchronization.
package ring

import "sync/atomic"

// Buffer is a fixed-capacity SPSC byte ring. Read and write positions are
// free-running monotonic counters; the difference is the buffered byte
// count, so the full and empty states never alias.
type Buffer struct {
	buf  []byte
	mask uint64
	rpos atomic.Uint64
	wpos atomic.Uint64
}

// New creates a ring holding at least size bytes. The capacity is rounded
// up to the next power of two.
func New(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	cap := 1
	for cap < size {
		cap <<= 1
	}
	return &Buffer{
		buf:  make([]byte, cap),
		mask: uint64(cap - 1),
	}
}

// Size returns the ring capacity in bytes.
func (b *Buffer) Size() int { return len(b.buf) }

// Buffered returns the number of bytes available to read.
func (b *Buffer) Buffered() int {
	return int(b.wpos.Load() - b.rpos.Load())
}

// Available returns the number of bytes that can be written without
// overwriting unread data.
func (b *Buffer) Available() int { return b.Size() - b.Buffered() }

// Write copies as much of p as fits and returns the number of bytes
// consumed. Only the single producer may call Write.
func (b *Buffer) Write(p []byte) int {
	w := b.wpos.Load()
	free := uint64(len(b.buf)) - (w - b.rpos.Load())
	n := uint64(len(p))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}
	off := w & b.mask
	c := copy(b.buf[off:], p[:n])
	if uint64(c) < n {
		copy(b.buf, p[c:n])
	}
	b.wpos.Store(w + n)
	return int(n)
}

// Read copies up to len(p) buffered bytes into p and returns the number
// copied. Only the single consumer may call Read.
func (b *Buffer) Read(p []byte) int {
	r := b.rpos.Load()
	avail := b.wpos.Load() - r
	n := uint64(len(p))
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}
	off := r & b.mask
	c := copy(p[:n], b.buf[off:])
	if uint64(c) < n {
		copy(p[c:n], b.buf)
	}
	b.rpos.Store(r + n)
	return int(n)
}

// Reset discards all buffered data. The caller must guarantee neither the
// producer nor the consumer touches the ring concurrently.
func (b *Buffer) Reset() {
	b.rpos.Store(0)
	b.wpos.Store(0)
}
