// Package timeline stitches edit-decision-list segments into a single
// packet stream. Packets pulled from the stitched source carry rebased
// timestamps and the segment window the decode layer clips against.
package timeline

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zsiec/tempo/media"
)

// edlHeader is the required first line of an edit decision list.
const edlHeader = "# mpv EDL v0"

// Segment is one edit: a span of an underlying source file.
type Segment struct {
	// File is the source path or URL.
	File string
	// Start is the in point in source time, seconds. NoPTS plays from the
	// source beginning.
	Start float64
	// Length is the edit duration in seconds. Zero means to the source end
	// and is only meaningful for the final segment.
	Length float64
}

// Parse reads an EDL. Each entry is a "file,start,length" line; start and
// length are optional. Blank lines and comments are skipped.
func Parse(r io.Reader) ([]Segment, error) {
	sc := bufio.NewScanner(r)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("timeline: empty EDL")
	}
	if strings.TrimSpace(sc.Text()) != edlHeader {
		return nil, fmt.Errorf("timeline: missing %q header", edlHeader)
	}

	var segs []Segment
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Split(text, ",")
		if len(fields) > 3 {
			return nil, fmt.Errorf("timeline: line %d: too many fields", line)
		}
		seg := Segment{File: strings.TrimSpace(fields[0]), Start: media.NoPTS}
		if seg.File == "" {
			return nil, fmt.Errorf("timeline: line %d: missing file", line)
		}
		if len(fields) > 1 {
			v, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
			if err != nil || v < 0 {
				return nil, fmt.Errorf("timeline: line %d: bad start %q", line, fields[1])
			}
			seg.Start = v
		}
		if len(fields) > 2 {
			v, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("timeline: line %d: bad length %q", line, fields[2])
			}
			seg.Length = v
		}
		segs = append(segs, seg)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("timeline: EDL has no segments")
	}
	for i, seg := range segs {
		if seg.Length == 0 && i != len(segs)-1 {
			return nil, fmt.Errorf("timeline: segment %d needs a length", i)
		}
	}
	return segs, nil
}
