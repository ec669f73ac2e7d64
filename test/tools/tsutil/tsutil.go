// Package tsutil provides the MPEG-TS packetization helpers shared by the
// harness tools (gen-harness, srt-serve).
package tsutil

// TSPacketSize is the fixed size of an MPEG-TS packet.
const TSPacketSize = 188

// Packetize splits payload into 188-byte TS packets on the given PID,
// incrementing the continuity counter cc between packets. The first packet
// carries the payload-unit-start flag; a short tail is padded out with
// adaptation-field stuffing.
func Packetize(payload []byte, pid uint16, cc *byte) []byte {
	var result []byte
	offset := 0
	first := true

	for offset < len(payload) {
		var pkt [TSPacketSize]byte
		pkt[0] = 0x47
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		if first {
			pkt[1] |= 0x40
			first = false
		}
		pkt[3] = 0x10 | (*cc & 0x0F)
		*cc = (*cc + 1) & 0x0F

		remaining := len(payload) - offset
		capacity := TSPacketSize - 4

		if remaining < capacity {
			stuffLen := capacity - remaining
			if stuffLen == 1 {
				pkt[3] |= 0x20
				pkt[4] = 0
				copy(pkt[5:], payload[offset:])
				offset = len(payload)
			} else {
				pkt[3] |= 0x20
				pkt[4] = byte(stuffLen - 1)
				if stuffLen > 2 {
					pkt[5] = 0
					for i := 6; i < 4+stuffLen; i++ {
						pkt[i] = 0xFF
					}
				}
				copy(pkt[4+stuffLen:], payload[offset:])
				offset = len(payload)
			}
		} else {
			copy(pkt[4:], payload[offset:offset+capacity])
			offset += capacity
		}

		result = append(result, pkt[:]...)
	}

	return result
}

// EncodeSEIMessage encodes an H.264 SEI message with the given payload type
// and payload bytes, using the multi-byte size encoding when needed.
func EncodeSEIMessage(payloadType int, payload []byte) []byte {
	var out []byte
	pt := payloadType
	for pt >= 255 {
		out = append(out, 0xFF)
		pt -= 255
	}
	out = append(out, byte(pt))

	ps := len(payload)
	for ps >= 255 {
		out = append(out, 0xFF)
		ps -= 255
	}
	out = append(out, byte(ps))
	out = append(out, payload...)
	return out
}

// AddEPB adds emulation prevention bytes per ITU-T H.264 spec:
// inserts 0x03 before any 0x00-0x03 byte that follows two consecutive 0x00
// bytes.
func AddEPB(data []byte) []byte {
	var out []byte
	zeroCount := 0
	for _, b := range data {
		if zeroCount >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeroCount = 0
		}
		out = append(out, b)
		if b == 0x00 {
			zeroCount++
		} else {
			zeroCount = 0
		}
	}
	return out
}
