package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
// 1316 bytes = 7 MPEG-TS packets (188 * 7), the standard SRT payload size.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// dialTimeout bounds the synchronous connection attempt.
const dialTimeout = 10 * time.Second

// PullConfig describes a remote SRT listener to pull from.
type PullConfig struct {
	// Address is the listener's host:port.
	Address string
	// StreamID is the SRT stream id announced on connect. Empty selects
	// "live/default", matching the usual publish-side key layout.
	StreamID string
}

// ParseURL splits an srt:// URL into a PullConfig. The stream id comes from
// the streamid query parameter.
func ParseURL(raw string) (PullConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return PullConfig{}, fmt.Errorf("srt: parsing %q: %w", raw, err)
	}
	if u.Scheme != "srt" {
		return PullConfig{}, fmt.Errorf("srt: %q is not an srt:// URL", raw)
	}
	if u.Hostname() == "" {
		return PullConfig{}, fmt.Errorf("srt: %q is missing a host", raw)
	}
	if u.Port() == "" {
		return PullConfig{}, fmt.Errorf("srt: %q is missing a port", raw)
	}
	return PullConfig{Address: u.Host, StreamID: u.Query().Get("streamid")}, nil
}

// Dial connects to the remote SRT listener synchronously (with a timeout)
// and returns a reader delivering the received transport stream. Closing
// the reader stops the transfer and closes the connection; canceling ctx
// does the same.
func Dial(ctx context.Context, cfg PullConfig, log *slog.Logger) (io.ReadCloser, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("srt: address is required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "srt-caller")

	scfg := srtgo.DefaultConfig()
	scfg.Latency = srtLatencyNs
	scfg.StreamID = cfg.StreamID
	if scfg.StreamID == "" {
		scfg.StreamID = "live/default"
	}

	log.Info("dialing", "address", cfg.Address, "stream_id", scfg.StreamID)

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(cfg.Address, scfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt: dial %s: %w", cfg.Address, res.err)
		}
		log.Info("connected", "address", cfg.Address)
		return newPull(ctx, cfg.Address, res.conn, log), nil
	case <-timer.C:
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("srt: dial %s timed out after %s", cfg.Address, dialTimeout)
	case <-ctx.Done():
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// pull pumps socket reads into a pipe so consumers can read arbitrary byte
// counts from the message-sized SRT deliveries.
type pull struct {
	pr   *io.PipeReader
	done chan struct{}
	once sync.Once
}

func newPull(ctx context.Context, address string, conn *srtgo.Conn, log *slog.Logger) *pull {
	pr, pw := io.Pipe()
	p := &pull{pr: pr, done: make(chan struct{})}

	// Closing the connection unblocks an in-flight socket read.
	go func() {
		select {
		case <-ctx.Done():
		case <-p.done:
		}
		conn.Close()
	}()

	go func() {
		start := time.Now()
		var bytes, reads int64
		buf := make([]byte, srtReadBufferSize)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil && !p.closed() {
					log.Debug("read error", "address", address, "error", err)
					pw.CloseWithError(fmt.Errorf("srt: read: %w", err))
				}
				break
			}
			bytes += int64(n)
			reads++
			if _, err := pw.Write(buf[:n]); err != nil {
				break
			}
		}
		pw.Close()
		log.Info("pull ended", "address", address,
			"bytes", bytes, "reads", reads,
			"uptime_ms", time.Since(start).Milliseconds())
	}()

	return p
}

func (p *pull) Read(b []byte) (int, error) { return p.pr.Read(b) }

// Close stops the transfer. A pending Read fails with io.ErrClosedPipe.
func (p *pull) Close() error {
	p.once.Do(func() { close(p.done) })
	return p.pr.Close()
}

func (p *pull) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
