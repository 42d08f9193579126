package mpegts

// Test builders for transport packets, PSI sections, and PES packets.

// buildPacket assembles one 188-byte transport packet, padding the payload
// with stuffing bytes.
func buildPacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	pkt := make([]byte, PacketSize)
	pkt[0] = SyncByte
	pkt[1] = byte(pid >> 8)
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | cc&0x0F
	n := copy(pkt[4:], payload)
	for i := 4 + n; i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// appendCRC finishes a PSI section by appending its CRC32.
func appendCRC(sec []byte) []byte {
	crc := computeCRC32(sec)
	return append(sec, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}

// buildPAT builds a PAT payload (pointer field included) mapping program 1
// to pmtPID.
func buildPAT(pmtPID uint16) []byte {
	sec := []byte{
		0x00,       // table_id
		0xB0, 0x0D, // section_syntax_indicator, section_length 13
		0x00, 0x01, // transport_stream_id
		0xC1,       // version 0, current_next 1
		0x00, 0x00, // section_number, last_section_number
		0x00, 0x01, // program_number 1
		0xE0 | byte(pmtPID>>8), byte(pmtPID),
	}
	return append([]byte{0x00}, appendCRC(sec)...)
}

// esEntry is one elementary stream in a built PMT.
type esEntry struct {
	streamType uint8
	pid        uint16
	desc       []byte
}

// buildPMT builds a PMT payload (pointer field included) for program 1.
func buildPMT(entries ...esEntry) []byte {
	var loop []byte
	for _, e := range entries {
		loop = append(loop,
			e.streamType,
			0xE0|byte(e.pid>>8), byte(e.pid),
			0xF0|byte(len(e.desc)>>8), byte(len(e.desc)),
		)
		loop = append(loop, e.desc...)
	}
	sectionLength := 9 + len(loop) + 4
	sec := []byte{
		0x02, // table_id
		0xB0 | byte(sectionLength>>8), byte(sectionLength),
		0x00, 0x01, // program_number
		0xC1,       // version 0, current_next 1
		0x00, 0x00, // section_number, last_section_number
		0xE1, 0x00, // PCR PID
		0xF0, 0x00, // program_info_length 0
	}
	sec = append(sec, loop...)
	return append([]byte{0x00}, appendCRC(sec)...)
}

// encodePTS encodes a 33-bit PTS/DTS value into 5 bytes with marker bits.
func encodePTS(marker byte, value int64) []byte {
	bs := make([]byte, 5)
	bs[0] = marker<<4 | byte((value>>29)&0x0E) | 0x01
	bs[1] = byte(value >> 22)
	bs[2] = byte((value>>14)&0xFE) | 0x01
	bs[3] = byte(value >> 7)
	bs[4] = byte((value<<1)&0xFE) | 0x01
	return bs
}

// buildPES assembles a PES packet. A zero packet length marks an unbounded
// video stream.
func buildPES(streamID byte, pts, dts int64, hasPTS, hasDTS bool, data []byte) []byte {
	var optHeader []byte
	ptsDTSFlags := byte(0)
	if hasPTS && hasDTS {
		ptsDTSFlags = 3
		optHeader = append(optHeader, encodePTS(0x03, pts)...)
		optHeader = append(optHeader, encodePTS(0x01, dts)...)
	} else if hasPTS {
		ptsDTSFlags = 2
		optHeader = append(optHeader, encodePTS(0x02, pts)...)
	}

	packetLength := 3 + len(optHeader) + len(data)
	if streamID == 0xE0 {
		packetLength = 0
	}

	buf := make([]byte, 0, 9+len(optHeader)+len(data))
	buf = append(buf, 0x00, 0x00, 0x01)
	buf = append(buf, streamID)
	buf = append(buf, byte(packetLength>>8), byte(packetLength))
	buf = append(buf, 0x80)
	buf = append(buf, ptsDTSFlags<<6)
	buf = append(buf, byte(len(optHeader)))
	buf = append(buf, optHeader...)
	buf = append(buf, data...)
	return buf
}

// buildStuffedPacket assembles a transport packet whose payload is shorter
// than 184 bytes, filling the slack with adaptation-field stuffing so the
// payload carries no trailing junk.
func buildStuffedPacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	if len(payload) == PacketSize-4 {
		return buildPacket(pid, cc, pusi, payload)
	}
	pkt := make([]byte, PacketSize)
	pkt[0] = SyncByte
	pkt[1] = byte(pid >> 8)
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	pkt[3] = 0x30 | cc&0x0F
	afLen := PacketSize - 4 - 1 - len(payload)
	pkt[4] = byte(afLen)
	if afLen > 0 {
		pkt[5] = 0x00
		for i := 6; i < 5+afLen; i++ {
			pkt[i] = 0xFF
		}
	}
	copy(pkt[5+afLen:], payload)
	return pkt
}

// packetize splits a PES packet into transport packets for one PID,
// starting at continuity counter cc.
func packetize(pid uint16, cc uint8, pes []byte) [][]byte {
	var pkts [][]byte
	const chunk = PacketSize - 4
	for i := 0; i < len(pes); i += chunk {
		end := min(i+chunk, len(pes))
		pkts = append(pkts, buildStuffedPacket(pid, cc, i == 0, pes[i:end]))
		cc = (cc + 1) & 0x0F
	}
	return pkts
}
