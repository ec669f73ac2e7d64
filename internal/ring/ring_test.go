package ring

import (
	"bytes"
	"fmt"
	"testing"
)

func TestBuffer_RoundsCapacityToPowerOfTwo(t *testing.T) {
	t.Parallel()

	cases := []struct{ ask, want int }{
		{1, 1},
		{2, 2},
		{3, 4},
		{100, 128},
		{4096, 4096},
	}
	for _, tc := range cases {
		if got := New(tc.ask).Size(); got != tc.want {
			t.Errorf("New(%d).Size() = %d, want %d", tc.ask, got, tc.want)
		}
	}
}

func TestBuffer_WriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	b := New(16)
	in := []byte("hello ring")
	if n := b.Write(in); n != len(in) {
		t.Fatalf("Write = %d, want %d", n, len(in))
	}
	if got := b.Buffered(); got != len(in) {
		t.Fatalf("Buffered = %d, want %d", got, len(in))
	}
	out := make([]byte, len(in))
	if n := b.Read(out); n != len(in) {
		t.Fatalf("Read = %d, want %d", n, len(in))
	}
	if !bytes.Equal(out, in) {
		t.Errorf("read %q, want %q", out, in)
	}
	if b.Buffered() != 0 || b.Available() != b.Size() {
		t.Error("ring not empty after full read")
	}
}

func TestBuffer_WrapAround(t *testing.T) {
	t.Parallel()

	b := New(8)
	tmp := make([]byte, 5)
	// Advance the positions so subsequent writes straddle the edge.
	for i := 0; i < 10; i++ {
		in := []byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3), byte(i + 4)}
		if n := b.Write(in); n != 5 {
			t.Fatalf("iteration %d: Write = %d, want 5", i, n)
		}
		if n := b.Read(tmp); n != 5 {
			t.Fatalf("iteration %d: Read = %d, want 5", i, n)
		}
		if !bytes.Equal(tmp, in) {
			t.Fatalf("iteration %d: read %v, want %v", i, tmp, in)
		}
	}
}

func TestBuffer_PartialWriteWhenFull(t *testing.T) {
	t.Parallel()

	b := New(4)
	if n := b.Write([]byte{1, 2, 3}); n != 3 {
		t.Fatalf("Write = %d, want 3", n)
	}
	// Only one byte of space remains.
	if n := b.Write([]byte{4, 5, 6}); n != 1 {
		t.Errorf("Write into nearly full ring = %d, want 1", n)
	}
	if n := b.Write([]byte{7}); n != 0 {
		t.Errorf("Write into full ring = %d, want 0", n)
	}
	out := make([]byte, 8)
	if n := b.Read(out); n != 4 || !bytes.Equal(out[:4], []byte{1, 2, 3, 4}) {
		t.Errorf("Read = %d %v, want 4 [1 2 3 4]", n, out[:4])
	}
}

func TestBuffer_Reset(t *testing.T) {
	t.Parallel()

	b := New(8)
	b.Write([]byte{1, 2, 3})
	b.Reset()
	if b.Buffered() != 0 {
		t.Errorf("Buffered after Reset = %d, want 0", b.Buffered())
	}
	if n := b.Read(make([]byte, 4)); n != 0 {
		t.Errorf("Read after Reset = %d, want 0", n)
	}
}

func TestBuffer_ConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()

	const total = 1 << 16
	b := New(64)
	done := make(chan error, 1)

	go func() {
		var seq int
		buf := make([]byte, 17)
		for seq < total {
			n := len(buf)
			if total-seq < n {
				n = total - seq
			}
			for i := 0; i < n; i++ {
				buf[i] = byte((seq + i) % 251)
			}
			seq += b.Write(buf[:n])
		}
	}()

	go func() {
		var seq int
		buf := make([]byte, 13)
		for seq < total {
			n := b.Read(buf)
			for i := 0; i < n; i++ {
				if buf[i] != byte((seq+i)%251) {
					done <- fmt.Errorf("byte %d = %d, want %d", seq+i, buf[i], byte((seq+i)%251))
					return
				}
			}
			seq += n
		}
		done <- nil
	}()

	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
