package main

import (
	"fmt"

	"github.com/zsiec/tempo/test/tools/tsutil"
)

// CEA-608 caption generation: each video frame carries one byte pair in an
// A/53 GA94 SEI, using roll-up mode:
//   - Control codes are sent twice (consecutive frames) for dedup
//   - Roll-up 2 mode (RU2 = 0x14 0x25)
//   - One character pair per frame
//   - Erase displayed memory (EDM = 0x14 0x2C) at end of caption

type cue struct {
	start float64
	end   float64
	text  string
}

// makeCues lays out one caption every cueInterval seconds for the whole
// stream duration.
func makeCues(duration float64) []cue {
	const cueInterval = 3.0
	const cueLength = 2.0

	var cues []cue
	n := 1
	for t := 1.0; t+cueLength < duration; t += cueInterval {
		cues = append(cues, cue{
			start: t,
			end:   t + cueLength,
			text:  fmt.Sprintf("HARNESS CAPTION %d", n),
		})
		n++
	}
	return cues
}

type ccPair struct {
	b1, b2 byte
}

// scheduleCaptionPairs converts cues into a frame-indexed byte-pair
// schedule. Frames without caption traffic get the null pair.
func scheduleCaptionPairs(cues []cue, fps float64, numFrames int) []ccPair {
	pairs := make([]ccPair, numFrames)
	for i := range pairs {
		pairs[i] = ccPair{0x00, 0x00}
	}

	place := func(frame int, p ccPair) {
		if frame >= 0 && frame < numFrames {
			pairs[frame] = p
		}
	}

	for _, c := range cues {
		startFrame := int(c.start * fps)
		endFrame := int(c.end * fps)
		if startFrame >= numFrames {
			break
		}

		seq := []ccPair{
			{0x14, 0x25}, // RU2
			{0x14, 0x25}, // RU2 dedup
			{0x14, 0x2C}, // EDM - clear previous
			{0x14, 0x2C}, // EDM dedup
			{0x14, 0x60}, // PAC row 14 (bottom), white, col 0
			{0x14, 0x60}, // PAC dedup
		}
		text := normalizeText(c.text)
		for i := 0; i < len(text); i += 2 {
			p := ccPair{text[i], 0x00}
			if i+1 < len(text) {
				p.b2 = text[i+1]
			}
			seq = append(seq, p)
		}

		for i, p := range seq {
			place(startFrame+i, p)
		}
		place(endFrame, ccPair{0x14, 0x2C})
		place(endFrame+1, ccPair{0x14, 0x2C})
	}

	return pairs
}

// normalizeText restricts caption text to the printable ASCII range CEA-608
// can carry directly.
func normalizeText(text string) []byte {
	if len(text) > 32 {
		text = text[:32]
	}
	var out []byte
	for _, ch := range text {
		if ch >= 0x20 && ch <= 0x7E {
			out = append(out, byte(ch))
		} else {
			out = append(out, '?')
		}
	}
	return out
}

// captionSEI builds a complete H.264 SEI NAL unit carrying one CEA-608
// byte pair as A/53 GA94 user_data_registered_itu_t_t35 cc_data.
func captionSEI(p ccPair) []byte {
	payload := []byte{
		0xB5,       // itu_t_t35_country_code (United States)
		0x00, 0x31, // itu_t_t35_provider_code (ATSC)
		'G', 'A', '9', '4',
		0x03,        // user_data_type_code (cc_data)
		0x40 | 0x01, // process_cc_data_flag=1, cc_count=1
		0xFF,        // em_data (reserved, all 1s)
		0xFC,        // marker_bits(5) + cc_valid=1 + cc_type=0 (608 field 1)
		addParity(p.b1),
		addParity(p.b2),
		0xFF, // marker_bits (end)
	}

	seiMessage := tsutil.EncodeSEIMessage(4, payload)
	seiMessage = append(seiMessage, 0x80) // RBSP trailing bits

	var nal []byte
	nal = append(nal, 0x00, 0x00, 0x00, 0x01)
	nal = append(nal, 0x06) // NAL type 6 (SEI)
	nal = append(nal, tsutil.AddEPB(seiMessage)...)
	return nal
}

// addParity sets the high bit for odd parity (CEA-608 requirement).
func addParity(b byte) byte {
	b &= 0x7F
	ones := 0
	v := b
	for v != 0 {
		ones += int(v & 1)
		v >>= 1
	}
	if ones%2 == 0 {
		return b | 0x80
	}
	return b
}
