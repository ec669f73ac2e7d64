package decode

import (
	"errors"
	"io"
	"log/slog"

	"github.com/zsiec/tempo/media"
)

// Pump bridges a Decoder to one-slot input/output pins. It runs the
// send/receive loop one step at a time: receive first, and only when the
// decoder demands input is the queued packet sent. EOF is forwarded exactly
// once per drain.
type Pump struct {
	dec Decoder
	log *slog.Logger

	in  media.Frame // queued packet or EOF, owned until sent
	out media.Frame // decoded frame awaiting pickup

	eofReturned bool
	failed      bool
}

// NewPump wraps dec. The pump owns dec until Close.
func NewPump(dec Decoder, log *slog.Logger) *Pump {
	if log == nil {
		log = slog.Default()
	}
	return &Pump{dec: dec, log: log}
}

// Decoder exposes the wrapped backend for capability queries.
func (p *Pump) Decoder() Decoder { return p.dec }

// NeedsData reports whether Write may be called.
func (p *Pump) NeedsData() bool { return p.in.IsNone() && !p.failed }

// Write queues one packet or EOF frame. Callers must check NeedsData.
func (p *Pump) Write(f media.Frame) { p.in = f }

// HasOutput reports whether Read would return a frame.
func (p *Pump) HasOutput() bool { return !p.out.IsNone() }

// Read takes the pending output frame, if any.
func (p *Pump) Read() media.Frame {
	f := p.out
	p.out = media.Frame{}
	return f
}

// Failed reports an unrecoverable pump failure (bad upstream frame type).
func (p *Pump) Failed() bool { return p.failed }

// Reset drops queued frames and drain state; the decoder is reset too.
func (p *Pump) Reset() {
	p.in = media.Frame{}
	p.out = media.Frame{}
	p.eofReturned = false
	p.failed = false
	p.dec.Reset()
}

// Close releases the decoder.
func (p *Pump) Close() { p.dec.Close() }

// Process runs one pump step and reports whether state advanced.
func (p *Pump) Process() bool {
	if p.failed || !p.out.IsNone() {
		return false
	}
	frame, err := p.dec.Receive()
	switch {
	case !frame.IsNone():
		p.eofReturned = false
		p.out = frame
		return true
	case errors.Is(err, io.EOF):
		if p.eofReturned {
			return false
		}
		p.out = media.EOFFrame()
		p.eofReturned = true
		return true
	case errors.Is(err, ErrAgain):
		// Need to feed a packet.
		var pkt *media.Packet
		switch p.in.Type() {
		case media.FrameNone:
			return false
		case media.FramePacket:
			pkt = p.in.Packet()
		case media.FrameEOF:
			pkt = nil
		default:
			p.log.Error("unexpected frame type", "type", p.in.Type().String())
			p.in = media.Frame{}
			p.failed = true
			return false
		}
		if err := p.dec.Send(pkt); err != nil {
			if errors.Is(err, ErrAgain) {
				// Should never happen, but can happen with broken decoders.
				p.log.Warn("decoder did not consume packet")
				return true
			}
			p.log.Error("decode error, dropping packet", "error", err)
		}
		p.in = media.Frame{}
		return true
	default:
		// Decoding error, or recovery from one. Just try again.
		return true
	}
}
