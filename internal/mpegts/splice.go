package mpegts

import "github.com/zsiec/tempo/media"

// SCTE-35 splice_info_section constants.
const (
	spliceTableID    = 0xFC
	spliceInsertType = 0x05
	ptsMask33        = (1 << 33) - 1
)

// Splice is one in-band SCTE-35 splice_insert cut point, surfaced so the
// playback layer can align timeline edits with signaled boundaries.
type Splice struct {
	EventID uint32
	// PTS is the splice point in stream presentation time, NoPTS for
	// immediate splices.
	PTS float64
	// Out marks an out-of-network point (cut away); false is the return.
	Out bool
}

// parseSpliceSection extracts splice_insert timing from a PSI payload
// carrying a splice_info_section. Sections that are not splice inserts, are
// cancellations, or fail their CRC are reported as not ok.
func parseSpliceSection(payload []byte) (Splice, bool) {
	if len(payload) < 1 {
		return Splice{}, false
	}
	off := 1 + int(payload[0]) // pointer_field
	if off >= len(payload) {
		return Splice{}, false
	}
	section := payload[off:]
	if len(section) < 14 || section[0] != spliceTableID {
		return Splice{}, false
	}
	sectionLength := int(section[1]&0x0F)<<8 | int(section[2])
	if 3+sectionLength > len(section) {
		return Splice{}, false
	}
	section = section[:3+sectionLength]
	if verifyCRC32(section) != nil {
		return Splice{}, false
	}

	r := newBitReader(section)
	r.skip(8)  // table_id
	r.skip(4)  // section_syntax_indicator + private_indicator + sap_type
	r.skip(12) // section_length
	r.skip(8)  // protocol_version
	r.skip(7)  // encrypted_packet + encryption_algorithm
	ptsAdjustment := r.readUint64(33)
	r.skip(8)  // cw_index
	r.skip(12) // tier
	r.skip(12) // splice_command_length
	if r.readUint32(8) != spliceInsertType {
		return Splice{}, false
	}

	sp := Splice{PTS: media.NoPTS}
	sp.EventID = r.readUint32(32)
	cancel := r.readBit()
	r.skip(7) // reserved
	if cancel {
		return Splice{}, false
	}

	sp.Out = r.readBit()
	programSplice := r.readBit()
	r.skip(1) // duration_flag
	immediate := r.readBit()
	r.skip(4) // reserved

	if programSplice && !immediate {
		if r.readBit() { // time_specified_flag
			r.skip(6) // reserved
			pts := (r.readUint64(33) + ptsAdjustment) & ptsMask33
			sp.PTS = float64(pts) / ptsClock
		} else {
			r.skip(7)
		}
	}
	if r.overflow {
		return Splice{}, false
	}
	return sp, true
}

// bitReader reads bits MSB-first from a byte slice.
type bitReader struct {
	data     []byte
	bitPos   int
	overflow bool
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) readBit() bool {
	if r.bitPos >= len(r.data)*8 {
		r.overflow = true
		return false
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8)
	r.bitPos++
	return (r.data[byteIdx]>>uint(bitIdx))&1 == 1
}

func (r *bitReader) readUint32(n int) uint32 {
	var val uint32
	for i := 0; i < n; i++ {
		val <<= 1
		if r.readBit() {
			val |= 1
		}
	}
	return val
}

func (r *bitReader) readUint64(n int) uint64 {
	var val uint64
	for i := 0; i < n; i++ {
		val <<= 1
		if r.readBit() {
			val |= 1
		}
	}
	return val
}

func (r *bitReader) skip(n int) {
	r.bitPos += n
	if r.bitPos > len(r.data)*8 {
		r.overflow = true
	}
}
