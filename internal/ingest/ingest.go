// Package ingest opens playback inputs, coupling local files and remote SRT
// pulls behind one accounted reader that the demux layer consumes.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zsiec/tempo/internal/ingest/srt"
)

// readBufferSize coalesces the demuxer's packet-sized reads into larger
// pulls from the underlying file or socket.
const readBufferSize = 64 << 10

// InputFormat identifies the container format of a playback source.
type InputFormat int

// Supported playback source formats.
const (
	FormatMPEGTS InputFormat = iota
	FormatEDL
)

// DetectFormat classifies a source by its name. Edit decision lists are
// recognized by the .edl extension; everything else feeds the TS demuxer.
func DetectFormat(source string) InputFormat {
	if strings.EqualFold(filepath.Ext(source), ".edl") {
		return FormatEDL
	}
	return FormatMPEGTS
}

// Stats captures read metrics for an input, logged when playback ends.
type Stats struct {
	BytesRead int64
	ReadCount int64
	OpenedAt  int64
	UptimeMs  int64
	Source    string
}

// Input is an open playback source, coupling the raw byte reader with
// metadata and read accounting.
type Input struct {
	Source   string
	Format   InputFormat
	OpenedAt time.Time

	src io.ReadCloser
	br  *bufio.Reader

	bytesRead atomic.Int64
	readCount atomic.Int64
}

// Open opens a playback source. Local paths open directly; srt:// URLs
// dial the remote listener in caller mode.
func Open(ctx context.Context, source string, log *slog.Logger) (*Input, error) {
	if strings.HasPrefix(source, "srt://") {
		cfg, err := srt.ParseURL(source)
		if err != nil {
			return nil, err
		}
		rc, err := srt.Dial(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return newInput(source, FormatMPEGTS, rc), nil
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	return newInput(source, DetectFormat(source), f), nil
}

func newInput(source string, format InputFormat, src io.ReadCloser) *Input {
	return &Input{
		Source:   source,
		Format:   format,
		OpenedAt: time.Now(),
		src:      src,
		br:       bufio.NewReaderSize(src, readBufferSize),
	}
}

// Read delivers buffered source bytes and accounts for them.
func (in *Input) Read(p []byte) (int, error) {
	n, err := in.br.Read(p)
	if n > 0 {
		in.bytesRead.Add(int64(n))
		in.readCount.Add(1)
	}
	return n, err
}

// Close closes the underlying file or connection, unblocking an in-flight
// SRT socket read.
func (in *Input) Close() error { return in.src.Close() }

// Stats returns a snapshot of input read metrics.
func (in *Input) Stats() Stats {
	return Stats{
		BytesRead: in.bytesRead.Load(),
		ReadCount: in.readCount.Load(),
		OpenedAt:  in.OpenedAt.UnixMilli(),
		UptimeMs:  time.Since(in.OpenedAt).Milliseconds(),
		Source:    in.Source,
	}
}
