// Command gen-harness writes the synthetic transport-stream fixtures the
// package tests and the srt-serve tool consume. The stream carries an H.264
// stub video track with CEA-608 captions in A/53 SEI units, a BDAV LPCM
// audio tone, and periodic SCTE-35 splice_insert cues.
//
// The video elementary stream is not a conformant H.264 bitstream: the
// player treats video ES data as opaque payload, so stub NAL units with
// valid types are all the fixtures need.
//
// Usage:
//
//	gen-harness [-out test/harness] [-duration 20]
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/zsiec/tempo/test/tools/tsutil"
)

const (
	patPID    = 0
	pmtPID    = 0x1000
	videoPID  = 0x100
	audioPID  = 0x101
	splicePID = 0x1F4

	fps        = 24.0
	gopLength  = 24 // one IDR per second
	sampleRate = 48000
	toneHz     = 440.0

	// Audio is cut into 20 ms PES units.
	samplesPerPES = sampleRate / 50

	// psiInterval is how often PAT and PMT repeat, in seconds.
	psiInterval = 0.5

	// spliceInterval alternates out/in cues, in seconds.
	spliceInterval = 4.0

	// ptsStart offsets the first presentation timestamp from zero, the way
	// real encoders do.
	ptsStart = 90000
)

func main() {
	outDir := flag.String("out", "test/harness", "Output directory for fixtures")
	duration := flag.Float64("duration", 20.0, "Stream duration in seconds")
	flag.Parse()

	if *duration <= 0 {
		fmt.Fprintf(os.Stderr, "duration must be positive\n")
		os.Exit(1)
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	data, st := buildStream(*duration)
	tsPath := filepath.Join(*outDir, "synthetic_av.ts")
	if err := os.WriteFile(tsPath, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", tsPath, err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d packets (%.1f MB), %.1fs\n",
		tsPath, len(data)/tsutil.TSPacketSize, float64(len(data))/(1024*1024), *duration)
	fmt.Printf("  video 0x%03X (H.264 stub, %d frames), audio 0x%03X (LPCM %d Hz tone, %d units), cues 0x%03X\n",
		videoPID, st.videoFrames, audioPID, sampleRate, st.audioUnits, splicePID)
	fmt.Printf("  %d captions, %d splice cues\n", st.captions, st.splices)

	edlPath := filepath.Join(*outDir, "synthetic_cut.edl")
	edl := "# mpv EDL v0\nsynthetic_av.ts,2,4\nsynthetic_av.ts,10,4\n"
	if err := os.WriteFile(edlPath, []byte(edl), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", edlPath, err)
		os.Exit(1)
	}
	fmt.Printf("%s: 2 segments\n", edlPath)
}

type streamStats struct {
	videoFrames int
	audioUnits  int
	captions    int
	splices     int
}

// counters holds the per-PID continuity counters.
type counters struct {
	pat, pmt, video, audio, splice byte
}

// buildStream muxes the synthetic program. Video frames drive the clock;
// PSI repeats, audio PES units, and splice cues are interleaved by their
// due time.
func buildStream(duration float64) ([]byte, streamStats) {
	numFrames := int(duration * fps)
	cues := makeCues(duration)
	pairs := scheduleCaptionPairs(cues, fps, numFrames)

	pat := patSection()
	pmt := pmtSection()

	var out []byte
	var cc counters
	var st streamStats
	st.captions = len(cues)

	psiNext := 0.0
	audioNext := 0.0
	spliceNext := spliceInterval
	spliceOut := true
	eventID := uint32(1)
	phase := 0.0

	for f := 0; f < numFrames; f++ {
		t := float64(f) / fps

		for psiNext <= t {
			out = append(out, psiPackets(pat, patPID, &cc.pat)...)
			out = append(out, psiPackets(pmt, pmtPID, &cc.pmt)...)
			psiNext += psiInterval
		}

		for audioNext <= t {
			pts := ptsStart + int64(audioNext*90000)
			pes := buildPES(0xBD, pts, lpcmFrame(&phase), false)
			out = append(out, tsutil.Packetize(pes, audioPID, &cc.audio)...)
			st.audioUnits++
			audioNext += float64(samplesPerPES) / sampleRate
		}

		if spliceNext <= t {
			pts := uint64(ptsStart + int64(spliceNext*90000))
			section := spliceInsertSection(eventID, pts, spliceOut)
			out = append(out, psiPackets(section, splicePID, &cc.splice)...)
			st.splices++
			eventID++
			spliceOut = !spliceOut
			spliceNext += spliceInterval
		}

		pts := ptsStart + int64(t*90000)
		au := videoAccessUnit(f, pairs[f])
		pes := buildPES(0xE0, pts, au, true)
		out = append(out, tsutil.Packetize(pes, videoPID, &cc.video)...)
		st.videoFrames++
	}

	// Audio runs to the full duration; the video clock stops a frame early.
	for audioNext < duration {
		pts := ptsStart + int64(audioNext*90000)
		pes := buildPES(0xBD, pts, lpcmFrame(&phase), false)
		out = append(out, tsutil.Packetize(pes, audioPID, &cc.audio)...)
		st.audioUnits++
		audioNext += float64(samplesPerPES) / sampleRate
	}

	return out, st
}

// H.264 stub NAL units. Types are real (SPS/PPS/IDR/non-IDR); payloads are
// filler chosen to avoid accidental start codes.
var (
	stubSPS      = []byte{0x67, 0x64, 0x00, 0x1E, 0xAC, 0xB2, 0x01, 0x40, 0x7B, 0x20}
	stubPPS      = []byte{0x68, 0xEB, 0xE3, 0xCB, 0x22, 0xC0}
	stubIDR      = []byte{0x65, 0x88, 0x84, 0x21, 0xA0, 0x5F, 0x1C, 0xAD, 0x52, 0x66, 0x7B, 0x3E, 0x91, 0x44}
	stubSlice    = []byte{0x41, 0x9A, 0x26, 0x41, 0x5C, 0x4E, 0x7D, 0x8A, 0x33, 0x62}
	annexBPrefix = []byte{0x00, 0x00, 0x00, 0x01}
)

// videoAccessUnit assembles one Annex B access unit: parameter sets on IDR
// frames, the caption SEI, then the (stub) slice. SEI precedes the VCL NAL
// as H.264 requires.
func videoAccessUnit(frame int, p ccPair) []byte {
	var au []byte
	idr := frame%gopLength == 0
	if idr {
		au = append(au, annexBPrefix...)
		au = append(au, stubSPS...)
		au = append(au, annexBPrefix...)
		au = append(au, stubPPS...)
	}
	au = append(au, captionSEI(p)...)
	au = append(au, annexBPrefix...)
	if idr {
		au = append(au, stubIDR...)
	} else {
		au = append(au, stubSlice...)
	}
	return au
}

// lpcmFrame produces one 20 ms BDAV LPCM PES payload: the 4-byte header
// (stereo, 48 kHz, 16-bit) followed by big-endian interleaved samples of a
// sine tone.
func lpcmFrame(phase *float64) []byte {
	n := samplesPerPES * 4
	payload := make([]byte, 4+n)
	payload[0] = byte(n >> 8)
	payload[1] = byte(n)
	payload[2] = 0x31 // channel_assignment=3 (stereo), sampling_frequency=1 (48 kHz)
	payload[3] = 0x40 // bits_per_sample=1 (16-bit)

	step := 2 * math.Pi * toneHz / sampleRate
	for i := 0; i < samplesPerPES; i++ {
		v := uint16(int16(9000 * math.Sin(*phase)))
		*phase += step
		payload[4+i*4] = byte(v >> 8)
		payload[4+i*4+1] = byte(v)
		payload[4+i*4+2] = byte(v >> 8)
		payload[4+i*4+3] = byte(v)
	}
	return payload
}

// buildPES wraps data in a PES packet with a PTS-only optional header.
// Unbounded (zero-length) PES is used for video, as the TS spec allows.
func buildPES(streamID byte, pts int64, data []byte, unbounded bool) []byte {
	pes := []byte{
		0x00, 0x00, 0x01, streamID,
		0x00, 0x00, // PES_packet_length, patched below
		0x80, // marker bits
		0x80, // PTS only
		0x05, // PES_header_data_length
	}
	pes = append(pes, encodePTS(0x20, pts)...)
	pes = append(pes, data...)
	if !unbounded {
		plen := len(pes) - 6
		pes[4] = byte(plen >> 8)
		pes[5] = byte(plen)
	}
	return pes
}

// encodePTS packs a 33-bit timestamp into the 5-byte PES encoding. prefix
// is the 4-bit indicator nibble ('0010' for a lone PTS).
func encodePTS(prefix byte, pts int64) []byte {
	return []byte{
		prefix | byte((pts>>29)&0x0E) | 0x01,
		byte(pts >> 22),
		byte((pts>>14)&0xFE) | 0x01,
		byte(pts >> 7),
		byte((pts<<1)&0xFE) | 0x01,
	}
}

// psiPackets wraps a section in a pointer field and packetizes it.
func psiPackets(section []byte, pid uint16, cc *byte) []byte {
	payload := make([]byte, 0, len(section)+1)
	payload = append(payload, 0x00) // pointer_field
	payload = append(payload, section...)
	return tsutil.Packetize(payload, pid, cc)
}

func patSection() []byte {
	s := []byte{
		0x00,       // table_id
		0xB0, 0x0D, // section_syntax_indicator=1, section_length=13
		0x00, 0x01, // transport_stream_id
		0xC1,       // version 0, current_next=1
		0x00, 0x00, // section_number, last_section_number
		0x00, 0x01, // program_number 1
		0xE0 | byte(pmtPID>>8), byte(pmtPID & 0xFF),
	}
	return appendCRC32(s)
}

func pmtSection() []byte {
	s := []byte{
		0x02,       // table_id
		0xB0, 0x1C, // section_syntax_indicator=1, section_length=28
		0x00, 0x01, // program_number
		0xC1,       // version 0, current_next=1
		0x00, 0x00, // section_number, last_section_number
		0xE0 | byte(videoPID>>8), byte(videoPID & 0xFF), // PCR_PID
		0xF0, 0x00, // program_info_length 0
		0x1B, 0xE0 | byte(videoPID>>8), byte(videoPID & 0xFF), 0xF0, 0x00, // H.264
		0x80, 0xE0 | byte(audioPID>>8), byte(audioPID & 0xFF), 0xF0, 0x00, // BDAV LPCM
		0x86, 0xE0 | byte(splicePID>>8), byte(splicePID & 0xFF), 0xF0, 0x00, // SCTE-35
	}
	return appendCRC32(s)
}

// spliceInsertSection encodes a minimal SCTE-35 splice_info_section with a
// program-level splice_insert at the given 90 kHz presentation time.
func spliceInsertSection(eventID uint32, pts uint64, out bool) []byte {
	var cmd bitWriter
	cmd.write(uint64(eventID), 32)
	cmd.write(0, 1)    // splice_event_cancel_indicator
	cmd.write(0x7F, 7) // reserved
	outBit := uint64(0)
	if out {
		outBit = 1
	}
	cmd.write(outBit, 1) // out_of_network_indicator
	cmd.write(1, 1)      // program_splice_flag
	cmd.write(0, 1)      // duration_flag
	cmd.write(0, 1)      // splice_immediate_flag
	cmd.write(0xF, 4)    // reserved
	cmd.write(1, 1)      // time_specified_flag
	cmd.write(0x3F, 6)   // reserved
	cmd.write(pts, 33)
	cmd.write(1, 16) // unique_program_id
	cmd.write(0, 8)  // avail_num
	cmd.write(0, 8)  // avails_expected

	var w bitWriter
	w.write(0xFC, 8) // table_id
	w.write(0, 1)    // section_syntax_indicator
	w.write(0, 1)    // private_indicator
	w.write(3, 2)    // sap_type
	w.write(uint64(11+len(cmd.buf)+2+4), 12)
	w.write(0, 8)  // protocol_version
	w.write(0, 1)  // encrypted_packet
	w.write(0, 6)  // encryption_algorithm
	w.write(0, 33) // pts_adjustment
	w.write(0, 8)  // cw_index
	w.write(0xFFF, 12)
	w.write(uint64(len(cmd.buf)), 12)
	w.write(0x05, 8) // splice_insert
	w.buf = append(w.buf, cmd.buf...)
	w.write(0, 16) // splice_descriptor_loop_length
	return appendCRC32(w.buf)
}

// bitWriter packs MSB-first bit fields into a byte slice.
type bitWriter struct {
	buf  []byte
	bits int // bits used in the final byte
}

func (w *bitWriter) write(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.bits == 0 {
			w.buf = append(w.buf, 0)
		}
		bit := byte(v>>uint(i)) & 1
		w.buf[len(w.buf)-1] |= bit << uint(7-w.bits)
		w.bits = (w.bits + 1) % 8
	}
}

// appendCRC32 appends the MPEG-2 CRC32 of the section so a decoder's check
// over the full section digests to zero.
func appendCRC32(section []byte) []byte {
	crc := uint32(0xFFFFFFFF)
	for _, b := range section {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}
