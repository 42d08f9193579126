package mpegts

import "fmt"

// AudioStream is one audio elementary stream from the PMT ES loop.
type AudioStream struct {
	PID        uint16
	StreamType uint8
	Languages  []string
}

// PrivateStream is a private-data ES carrying DVB subtitles or teletext,
// identified by its descriptors.
type PrivateStream struct {
	PID      uint16
	Kind     string
	Language string
}

// ProgramMap is the decoded view of one PMT: the selected video stream,
// every audio stream, timed-metadata streams, and advertised private
// streams.
type ProgramMap struct {
	HasVideo        bool
	VideoPID        uint16
	VideoStreamType uint8

	Audio    []AudioStream
	Metadata []uint16
	SCTE35   []uint16
	Private  []PrivateStream
}

// RoleOf classifies a PID according to the map.
func (m *ProgramMap) RoleOf(pid uint16) (Role, uint8) {
	if m.HasVideo && pid == m.VideoPID {
		return RoleVideo, m.VideoStreamType
	}
	for _, a := range m.Audio {
		if a.PID == pid {
			return RoleAudio, a.StreamType
		}
	}
	for _, p := range m.Metadata {
		if p == pid {
			return RoleMetadata, StreamTypeMetadata
		}
	}
	for _, p := range m.SCTE35 {
		if p == pid {
			return RoleSCTE35, StreamTypeSCTE35
		}
	}
	for _, p := range m.Private {
		if p.PID == pid {
			return RolePrivate, StreamTypePrivatePES
		}
	}
	return RoleNone, 0
}

// ExtractSection extracts one PSI section from a packet payload that has
// the payload_unit_start_indicator set. Sections on splice PIDs are routed
// through here by the facade before decoding.
func ExtractSection(payload []byte) ([]byte, error) {
	return section(payload)
}

// section extracts one PSI section from a packet payload that has the
// payload_unit_start_indicator set: skip the pointer field, then bound the
// section by its section_length.
func section(payload []byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: empty PSI payload")
	}
	pointer := int(payload[0])
	start := 1 + pointer
	if start+3 > len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field beyond payload")
	}
	sec := payload[start:]
	sectionLength := int(sec[1]&0x0F)<<8 | int(sec[2])
	total := 3 + sectionLength
	if total > len(sec) {
		return nil, fmt.Errorf("mpegts: PSI section truncated: need %d have %d", total, len(sec))
	}
	return sec[:total], nil
}

// parsePAT returns the PMT PID of the first program in the association
// table. Program number 0 entries point at the network PID and are skipped.
func parsePAT(payload []byte) (uint16, error) {
	sec, err := section(payload)
	if err != nil {
		return 0, err
	}
	if sec[0] != 0x00 {
		return 0, fmt.Errorf("mpegts: unexpected PAT table id 0x%02X", sec[0])
	}
	if err := verifyCRC32(sec); err != nil {
		return 0, err
	}
	if sec[5]&0x01 == 0 {
		return 0, fmt.Errorf("mpegts: PAT not current")
	}
	for off := 8; off+4 <= len(sec)-4; off += 4 {
		programNumber := uint16(sec[off])<<8 | uint16(sec[off+1])
		pid := uint16(sec[off+2]&0x1F)<<8 | uint16(sec[off+3])
		if programNumber != 0 {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("mpegts: PAT carries no program")
}

// videoStreamType reports whether st is a video codec the pipeline can
// select. Broad mode admits the MPEG-2, H.265 and related families so that
// callers can surface an unsupported-codec error instead of silence.
func videoStreamType(st uint8, broad bool) bool {
	if st == StreamTypeH264 {
		return true
	}
	if !broad {
		return false
	}
	switch st {
	case 0x01, 0x02, 0x10, 0x24, 0x42, 0xDB:
		return true
	}
	return false
}

func audioStreamType(st uint8, broad bool) bool {
	if st == StreamTypeAAC {
		return true
	}
	if !broad {
		return false
	}
	switch st {
	case 0x03, 0x04, 0x11, 0x1C, 0x81, 0x87:
		return true
	}
	return false
}

// parsePMT decodes a program map section into a ProgramMap. The first video
// stream encountered wins; every audio stream is recorded. Private-data
// streams are inspected for DVB subtitle (0x59) and teletext (0x56)
// descriptors, audio loops for ISO-639 language descriptors (0x0A).
func parsePMT(payload []byte, broad bool) (*ProgramMap, error) {
	sec, err := section(payload)
	if err != nil {
		return nil, err
	}
	if sec[0] != 0x02 {
		return nil, fmt.Errorf("mpegts: unexpected PMT table id 0x%02X", sec[0])
	}
	if err := verifyCRC32(sec); err != nil {
		return nil, err
	}
	if sec[5]&0x01 == 0 {
		return nil, fmt.Errorf("mpegts: PMT not current")
	}
	if len(sec) < 12 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}
	programInfoLength := int(sec[10]&0x0F)<<8 | int(sec[11])
	off := 12 + programInfoLength
	end := len(sec) - 4

	m := &ProgramMap{}
	for off+5 <= end {
		streamType := sec[off]
		pid := uint16(sec[off+1]&0x1F)<<8 | uint16(sec[off+2])
		esInfoLength := int(sec[off+3]&0x0F)<<8 | int(sec[off+4])
		descStart := off + 5
		descEnd := descStart + esInfoLength
		if descEnd > end {
			return nil, fmt.Errorf("mpegts: PMT ES loop truncated")
		}
		desc := sec[descStart:descEnd]

		switch {
		case videoStreamType(streamType, broad):
			if !m.HasVideo {
				m.HasVideo = true
				m.VideoPID = pid
				m.VideoStreamType = streamType
			}
		case audioStreamType(streamType, broad):
			m.Audio = append(m.Audio, AudioStream{
				PID:        pid,
				StreamType: streamType,
				Languages:  iso639Languages(desc),
			})
		case streamType == StreamTypeMetadata:
			m.Metadata = append(m.Metadata, pid)
		case streamType == StreamTypeSCTE35:
			m.SCTE35 = append(m.SCTE35, pid)
		case streamType == StreamTypePrivatePES:
			if ps, ok := privateStream(pid, desc); ok {
				m.Private = append(m.Private, ps)
			}
		}
		off = descEnd
	}
	return m, nil
}

func iso639Languages(desc []byte) []string {
	var langs []string
	for off := 0; off+2 <= len(desc); {
		tag := desc[off]
		length := int(desc[off+1])
		body := off + 2
		if body+length > len(desc) {
			break
		}
		if tag == 0x0A {
			for p := body; p+4 <= body+length; p += 4 {
				langs = append(langs, string(desc[p:p+3]))
			}
		}
		off = body + length
	}
	return langs
}

func privateStream(pid uint16, desc []byte) (PrivateStream, bool) {
	for off := 0; off+2 <= len(desc); {
		tag := desc[off]
		length := int(desc[off+1])
		body := off + 2
		if body+length > len(desc) {
			break
		}
		switch tag {
		case 0x59:
			ps := PrivateStream{PID: pid, Kind: "subtitle"}
			if length >= 3 {
				ps.Language = string(desc[body : body+3])
			}
			return ps, true
		case 0x56:
			ps := PrivateStream{PID: pid, Kind: "teletext"}
			if length >= 3 {
				ps.Language = string(desc[body : body+3])
			}
			return ps, true
		}
		off = body + length
	}
	return PrivateStream{}, false
}
