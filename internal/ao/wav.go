package ao

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zsiec/tempo/media"
)

// wavOutburst is the chunk size the file writer fetches per callback.
const wavOutburst = 512

// wavDriver records playback to a RIFF/WAVE file in real time, silence
// included, pacing its callback like a hardware device would. It is meant
// for debugging and is never autoprobed (see NewRegistry).
type wavDriver struct {
	path string
	f    *os.File

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	// written is owned by the pull goroutine; Uninit reads it after join.
	written int64
}

func newWAVDriver(arg string) Driver {
	if arg == "" {
		arg = "audiodump.wav"
	}
	return &wavDriver{path: arg}
}

func (d *wavDriver) Name() string { return "wav" }

func (d *wavDriver) Init(o *Output) error {
	if o.fmt.Planar {
		return errors.New("wav: planar formats not supported")
	}
	f, err := os.Create(d.path)
	if err != nil {
		return fmt.Errorf("wav: %w", err)
	}
	if _, err := f.Write(wavHeader(o.fmt, 0)); err != nil {
		f.Close()
		return fmt.Errorf("wav: write header: %w", err)
	}
	d.f = f
	return nil
}

func (d *wavDriver) Uninit(o *Output) {
	d.mu.Lock()
	if d.running {
		d.running = false
		close(d.stop)
		done := d.done
		d.mu.Unlock()
		<-done
	} else {
		d.mu.Unlock()
	}
	if d.f == nil {
		return
	}
	// Patch the RIFF and data chunk sizes now that the length is known.
	hdr := wavHeader(o.fmt, d.written)
	if _, err := d.f.WriteAt(hdr, 0); err != nil {
		o.log.Error("patching wav header failed", "error", err)
	}
	if err := d.f.Close(); err != nil {
		o.log.Error("closing wav file failed", "error", err)
	}
	d.f = nil
}

func (d *wavDriver) Resume(o *Output) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.pull(o, d.stop, d.done)
}

func (d *wavDriver) pull(o *Output, stop, done chan struct{}) {
	defer close(done)
	buf := make([]byte, wavOutburst*o.SampleStride())
	planes := [][]byte{buf}
	period := time.Duration(float64(wavOutburst) / float64(o.Format().Rate) * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	failed := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.ReadData(planes, wavOutburst, NowUS()+period.Microseconds())
			if _, err := d.f.Write(buf); err != nil {
				if !failed {
					o.log.Error("wav write failed, discarding audio", "error", err)
					failed = true
				}
				continue
			}
			d.written += int64(len(buf))
		}
	}
}

// wavHeader builds the canonical 44-byte PCM header. Float formats use
// WAVE_FORMAT_IEEE_FLOAT; the S/PDIF pseudo-format is stored as 16-bit PCM,
// which is exactly what a passthrough-capable receiver expects to unwrap.
func wavHeader(f media.AudioFormat, dataLen int64) []byte {
	bits := f.Format.Bytes() * 8
	tag := uint16(1)
	if f.Format == media.SampleFloat || f.Format == media.SampleDouble {
		tag = 3
	}
	blockAlign := f.Channels * f.Format.Bytes()
	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:], uint32(36+dataLen))
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], tag)
	binary.LittleEndian.PutUint16(hdr[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(hdr[24:], uint32(f.Rate))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(f.Rate*blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:], uint16(bits))
	copy(hdr[36:], "data")
	binary.LittleEndian.PutUint32(hdr[40:], uint32(dataLen))
	return hdr
}
