package ao

import (
	"sync"
	"time"
)

// nullOutburst is the chunk size the simulated device fetches per callback.
const nullOutburst = 256

// nullDriver simulates an audio device: a ticker goroutine consumes
// outburst-sized chunks at the nominal sample rate and throws them away.
// It accepts every format, which also makes it the autoprobe terminator.
type nullDriver struct {
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func newNullDriver(string) Driver { return &nullDriver{} }

func (d *nullDriver) Name() string { return "null" }

func (d *nullDriver) Init(o *Output) error { return nil }

func (d *nullDriver) Uninit(o *Output) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	done := d.done
	d.mu.Unlock()
	<-done
}

func (d *nullDriver) Resume(o *Output) {
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

func (d *nullDriver) pull(o *Output, stop, done chan struct{}) {
	defer close(done)
	planes := make([][]byte, o.Format().NumPlanes())
	for n := range planes {
		planes[n] = make([]byte, nullOutburst*o.SampleStride())
	}
	period := time.Duration(float64(nullOutburst) / float64(o.Format().Rate) * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.ReadData(planes, nullOutburst, NowUS()+period.Microseconds())
		}
	}
}
