// Package ao implements pull-mode audio output. The player pushes decoded
// samples into per-plane ring buffers; the device driver pulls them from its
// own callback goroutine. The two sides share nothing but the rings and two
// atomics, because several audio APIs forbid locking on the callback path.
package ao

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/zsiec/tempo/internal/ring"
	"github.com/zsiec/tempo/media"
)

// Playback states. The callback side owns the WAIT to NONE transition; the
// control side owns everything else.
const (
	stateNone int32 = iota // idle: device open, nothing playing
	stateWait              // control side waits for the callback to park
	statePlay              // callback drains the rings
)

// resetTimeout bounds the reset handshake. A callback that fails to park
// within it is treated as a stalled device.
const resetTimeout = time.Second

// epoch anchors the monotonic microsecond clock shared by the control and
// callback sides.
var epoch = time.Now()

// NowUS returns microseconds on the output clock. Drivers use it to stamp
// the realtime at which the last sample they fetched reaches the speakers.
func NowUS() int64 { return time.Since(epoch).Microseconds() }

// Config carries the parameters for opening an output.
type Config struct {
	Format media.AudioFormat
	// BufferSecs sizes the ring buffers; 0 means 0.2 seconds.
	BufferSecs float64
	// Wakeup is invoked from the device callback once half the buffer has
	// drained. It must not block.
	Wakeup func()
	Log    *slog.Logger
}

// Output is one open audio device. Play, GetSpace, GetDelay, Reset, Pause,
// Resume, Drain and EOF form the control-side contract; ReadData is the
// device-side contract and must be called from exactly one goroutine.
type Output struct {
	driver  Driver
	fmt     media.AudioFormat
	sstride int // bytes between consecutive samples within one plane
	bps     int // per-plane bytes per second
	samples int // ring capacity target in samples
	wakeup  func()
	log     *slog.Logger

	// Be very careful with the order when accessing planes; see Play and
	// ReadData.
	buffers []*ring.Buffer

	state     atomic.Int32
	endTimeUS atomic.Int64
}

// Format returns the negotiated sample format.
func (o *Output) Format() media.AudioFormat { return o.fmt }

// SampleStride returns the per-plane byte distance between samples.
func (o *Output) SampleStride() int { return o.sstride }

// BufferSamples returns the ring capacity target in samples.
func (o *Output) BufferSamples() int { return o.samples }

// Log returns the output's logger for driver use.
func (o *Output) Log() *slog.Logger { return o.log }

// Name returns the driver name.
func (o *Output) Name() string { return o.driver.Name() }

// GetSpace returns how many samples Play can currently accept. The reader
// reads the last plane last, so its free space is the minimum across all
// planes.
func (o *Output) GetSpace() int {
	return o.buffers[len(o.buffers)-1].Available() / o.sstride
}

// Play queues up to samples samples from planes and returns how many were
// accepted. Writing starts from the last plane so the first plane always
// holds the minimum readable amount across planes (the reader starts with
// the first plane). Queuing data starts playback if it was idle.
func (o *Output) Play(planes [][]byte, samples int) int {
	write := o.GetSpace()
	if samples < write {
		write = samples
	}
	bytes := write * o.sstride
	for n := len(o.buffers) - 1; n >= 0; n-- {
		if w := o.buffers[n].Write(planes[n][:bytes]); w != bytes {
			o.log.Error("short ring write", "plane", n, "wrote", w, "want", bytes)
		}
	}
	if o.state.Load() != statePlay {
		o.state.Store(statePlay)
		o.driver.Resume(o)
	}
	return write
}

// ReadData copies up to samples samples into planes and returns how many
// were real data. The remainder of every plane is filled with silence, so
// the device can always submit the full buffer (underrun, paused and EOF
// all sound the same). endTimeUS is the output-clock time at which the last
// copied sample reaches the speakers.
//
// When the output is not playing, ReadData returns 0; if a reset handshake
// is pending it acknowledges it here, the one place guaranteed not to touch
// the rings.
func (o *Output) ReadData(planes [][]byte, samples int, endTimeUS int64) int {
	fullBytes := samples * o.sstride
	bytes := 0
	switch o.state.Load() {
	case statePlay:
		// The writer writes the first plane last, so plane 0 holds the
		// minimum buffered amount across planes.
		buffered := o.buffers[0].Buffered()
		bytes = fullBytes
		if buffered < bytes {
			bytes = buffered
		}
		if bytes > 0 {
			o.endTimeUS.Store(endTimeUS)
		}
		for n := range o.buffers {
			if r := o.buffers[n].Read(planes[n][:bytes]); r < bytes {
				bytes = r
			}
		}
		// Half of the buffer played: request more.
		if buffered-bytes <= o.buffers[0].Size()/2 && o.wakeup != nil {
			o.wakeup()
		}
	case stateWait:
		o.state.Store(stateNone)
	}
	for n := range planes {
		o.fmt.FillSilence(planes[n][bytes:fullBytes])
	}
	return bytes / o.sstride
}

// GetDelay returns how long it takes until the last queued sample reaches
// the speakers, in seconds. Audio/video synchronization hangs off this
// number.
func (o *Output) GetDelay() float64 {
	driverDelay := math.Max(0, float64(o.endTimeUS.Load()-NowUS())/1e6)
	return float64(o.buffers[0].Buffered())/float64(o.bps) + driverDelay
}

// Reset stops playback and discards everything queued. Emptying the rings
// is not atomic, so with no driver-side reset the callback must first be
// parked via the WAIT handshake.
func (o *Output) Reset() {
	if r, ok := o.driver.(Resetter); ok {
		r.Reset(o) // callback thread is stopped on return
		o.state.Store(stateNone)
	} else if o.state.Load() != stateNone {
		o.state.Store(stateWait)
		deadline := time.Now().Add(resetTimeout)
		for o.state.Load() != stateNone {
			if time.Now().After(deadline) {
				o.log.Error("device callback stalled during reset")
				o.state.Store(stateNone)
				break
			}
			time.Sleep(time.Microsecond)
		}
	}
	for _, b := range o.buffers {
		b.Reset()
	}
	o.endTimeUS.Store(0)
}

// Pause stops consumption but keeps queued data.
func (o *Output) Pause() {
	if r, ok := o.driver.(Resetter); ok {
		r.Reset(o)
	}
	o.state.Store(stateNone)
}

// Resume restarts consumption after Pause.
func (o *Output) Resume() {
	o.state.Store(statePlay)
	o.driver.Resume(o)
}

// Drain blocks until everything queued has (approximately) played, then
// resets. The wait is time-based rather than signalled, matching the
// precision GetDelay offers.
func (o *Output) Drain() {
	if o.state.Load() == statePlay {
		time.Sleep(time.Duration(o.GetDelay() * float64(time.Second)))
	}
	o.Reset()
}

// EOF reports whether the queue has fully drained. Device latency is
// ignored; tracking it would need a timer thread for little gain.
func (o *Output) EOF() bool { return o.buffers[0].Buffered() == 0 }

// Close shuts the device down. Queued audio is dropped; call Drain first
// for a gapless end.
func (o *Output) Close() { o.driver.Uninit(o) }
