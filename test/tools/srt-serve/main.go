// Command srt-serve listens for SRT callers and serves each one a local
// transport stream at the file's natural byte rate. It is the counterpart
// to the player's caller-mode srt:// input:
//
//	go run ./test/tools/srt-serve -file test/harness/synthetic_av.ts &
//	go run ./cmd/tempo 'srt://127.0.0.1:6000?streamid=live/demo'
//
// The file loops by default; every PTS, DTS, and PCR is shifted each pass
// so timestamps stay monotonic across the loop seam.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/tempo/test/tools/tsutil"
)

// srtLatencyNs matches the player's caller-side latency setting (120 ms).
const srtLatencyNs = 120_000_000

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:6000", "Listen address")
	fileFlag := flag.String("file", "test/harness/synthetic_av.ts", "TS file to serve")
	onceFlag := flag.Bool("once", false, "Serve a single pass instead of looping")
	durationFlag := flag.Float64("duration", 0, "Known duration in seconds (skips the PTS scan)")
	flag.Parse()

	data, err := os.ReadFile(*fileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read file: %v\n", err)
		os.Exit(1)
	}
	if len(data)%tsutil.TSPacketSize != 0 {
		fmt.Fprintf(os.Stderr, "Warning: file size not a multiple of %d\n", tsutil.TSPacketSize)
	}

	entries, firstPTS, lastPTS := scanTimestamps(data)
	scanned := 0.0
	if firstPTS >= 0 && lastPTS > firstPTS {
		scanned = float64(lastPTS-firstPTS) / 90000
	}
	duration := pickDuration(*durationFlag, scanned)
	bytesPerSec := float64(len(data)) / duration
	durTicks := int64(duration * 90000)

	fmt.Printf("File: %s (%d packets, %.1fs, %.0f bytes/sec, %d timestamp sites)\n",
		*fileFlag, len(data)/tsutil.TSPacketSize, duration, bytesPerSec, len(entries))

	cfg := srt.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srt.Listen(*addrFlag, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "SRT listen on %s: %v\n", *addrFlag, err)
		os.Exit(1)
	}
	fmt.Printf("Listening on srt://%s\n", *addrFlag)

	l.SetAcceptRejectFunc(func(req srt.ConnRequest) srt.RejectReason {
		fmt.Printf("Connection request, streamid %q\n", req.StreamID)
		return 0
	})

	for {
		conn, err := l.Accept()
		if err != nil {
			fmt.Fprintf(os.Stderr, "accept: %v\n", err)
			os.Exit(1)
		}
		go serve(conn, data, entries, bytesPerSec, durTicks, !*onceFlag)
	}
}

// pickDuration chooses the serve duration: an explicit override wins, then
// the PTS scan, then a 60-second default for files with no timestamps.
func pickDuration(override, scanned float64) float64 {
	if override > 0 {
		return override
	}
	if scanned > 0 {
		return scanned
	}
	return 60.0
}

// serve streams the file to one caller, paced so the byte rate matches the
// file's duration. Each caller gets its own buffer copy because the loop
// seam rewrites timestamps in place.
func serve(conn *srt.Conn, data []byte, entries []tsEntry, bytesPerSec float64, durTicks int64, loop bool) {
	defer conn.Close()
	peer := fmt.Sprintf("%s %q", conn.RemoteAddr(), conn.StreamID())

	buf := make([]byte, len(data))
	copy(buf, data)

	chunkSize := tsutil.TSPacketSize * 7
	start := time.Now()
	var sent int64
	lastLog := time.Now()
	const logInterval = 10 * time.Second

	fmt.Printf("[%s] serving\n", peer)

	for pass := 1; ; pass++ {
		for i := 0; i < len(buf); i += chunkSize {
			end := i + chunkSize
			if end > len(buf) {
				end = len(buf)
			}

			if _, err := conn.Write(buf[i:end]); err != nil {
				fmt.Printf("[%s] write: %v, dropping caller\n", peer, err)
				return
			}
			sent += int64(end - i)

			// Pace against the wall clock from connection start so timing
			// is continuous across loop boundaries -- no burst or gap at
			// the seam.
			expected := float64(sent) / bytesPerSec
			elapsed := time.Since(start).Seconds()
			if expected > elapsed {
				time.Sleep(time.Duration((expected - elapsed) * float64(time.Second)))
			}

			if time.Since(lastLog) >= logInterval {
				rate := float64(sent) / time.Since(start).Seconds()
				fmt.Printf("[%s] pass=%d rate=%.0f B/s (target=%.0f) total=%.1f MB\n",
					peer, pass, rate, bytesPerSec, float64(sent)/(1024*1024))
				lastLog = time.Now()
			}
		}
		if !loop {
			break
		}
		if len(entries) > 0 {
			addTimestampOffset(buf, entries, durTicks)
		}
	}

	fmt.Printf("[%s] served %.1f MB in %s\n",
		peer, float64(sent)/(1024*1024), time.Since(start).Truncate(time.Second))
}
