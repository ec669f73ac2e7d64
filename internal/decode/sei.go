package decode

// Caption extraction from H.264/H.265 access units. The decoder only
// locates the SEI NAL units that carry ATSC A/53 cc_data and hands them on
// whole; parsing the caption channels themselves is the caption sink's job.

const (
	nalTypeSEI     = 6  // H.264
	hevcNALSEI     = 39 // H.265 prefix SEI
	seiTypeITUT35  = 4
	countryCodeUS  = 0xB5
	providerATSC   = 0x0031
	userDataCC     = 0x03
)

// findCaptionSEI walks an Annex B byte stream and returns every SEI NAL
// unit containing A/53 caption data. Returned slices alias data and start
// at the NAL header byte.
func findCaptionSEI(data []byte, hevc bool) [][]byte {
	var out [][]byte
	n := len(data)
	i := 0
	for i+3 < n {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		start := -1
		if data[i+2] == 1 {
			start = i + 3
		} else if i+4 < n && data[i+2] == 0 && data[i+3] == 1 {
			start = i + 4
		}
		if start < 0 {
			i++
			continue
		}
		end := nextStartCode(data, start)
		nal := data[start:end]
		if len(nal) > 1 && isSEI(nal[0], hevc) && seiHasCaptions(nal, hevc) {
			out = append(out, nal)
		}
		i = end
	}
	return out
}

func nextStartCode(data []byte, from int) int {
	for i := from; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && (data[i+2] == 1 ||
			(i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1)) {
			return i
		}
	}
	return len(data)
}

func isSEI(header byte, hevc bool) bool {
	if hevc {
		return (header>>1)&0x3F == hevcNALSEI
	}
	return header&0x1F == nalTypeSEI
}

// seiHasCaptions walks the SEI messages in a NAL unit looking for a
// user_data_registered_itu_t_t35 payload carrying A/53 GA94 cc_data.
func seiHasCaptions(nal []byte, hevc bool) bool {
	headerLen := 1
	if hevc {
		headerLen = 2
	}
	if len(nal) <= headerLen {
		return false
	}
	rbsp := removeEmulationPrevention(nal[headerLen:])

	i := 0
	for i < len(rbsp) && rbsp[i] != 0x80 {
		payloadType := 0
		for i < len(rbsp) && rbsp[i] == 0xFF {
			payloadType += 255
			i++
		}
		if i >= len(rbsp) {
			return false
		}
		payloadType += int(rbsp[i])
		i++

		payloadSize := 0
		for i < len(rbsp) && rbsp[i] == 0xFF {
			payloadSize += 255
			i++
		}
		if i >= len(rbsp) {
			return false
		}
		payloadSize += int(rbsp[i])
		i++

		if i+payloadSize > len(rbsp) {
			return false
		}
		if payloadType == seiTypeITUT35 && isA53Captions(rbsp[i:i+payloadSize]) {
			return true
		}
		i += payloadSize
	}
	return false
}

// isA53Captions checks an ITU-T T.35 payload for ATSC A/53 GA94 cc_data.
func isA53Captions(p []byte) bool {
	if len(p) < 8 {
		return false
	}
	if p[0] != countryCodeUS || p[1] != byte(providerATSC>>8) || p[2] != byte(providerATSC&0xFF) {
		return false
	}
	if p[3] != 'G' || p[4] != 'A' || p[5] != '9' || p[6] != '4' {
		return false
	}
	return p[7] == userDataCC
}

// removeEmulationPrevention strips 0x03 bytes inserted after two zero bytes
// per the H.264/H.265 RBSP escaping rules.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for i := 0; i < len(data); i++ {
		if zeros >= 2 && data[i] == 0x03 && i+1 < len(data) && data[i+1] <= 0x03 {
			zeros = 0
			continue
		}
		out = append(out, data[i])
		if data[i] == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
