// Package scte35 decodes SCTE-35 splice_info_section tables carried on
// PMT-advertised cue PIDs. Only the decode direction is implemented, and
// only the commands an ad-insertion workflow acts on: splice_null,
// splice_insert and time_signal, plus the CUEI segmentation descriptor.
package scte35

import "fmt"

// TableID identifies a splice_info_section.
const TableID = 0xFC

// CommandType is the splice_command_type field.
type CommandType uint8

// Splice command types.
const (
	CommandNull       CommandType = 0x00
	CommandInsert     CommandType = 0x05
	CommandTimeSignal CommandType = 0x06
)

// legacyCommandLength marks sections that predate the explicit
// splice_command_length field.
const legacyCommandLength = 0xFFF

// Break is the break_duration structure of a splice_insert.
type Break struct {
	AutoReturn bool
	Duration   uint64
}

// Insert is a decoded splice_insert command. PTSTime is nil for immediate
// splices and for component-mode sections.
type Insert struct {
	EventID         uint32
	Cancel          bool
	OutOfNetwork    bool
	Immediate       bool
	PTSTime         *uint64
	Break           *Break
	UniqueProgramID uint16
	AvailNum        uint8
	AvailsExpected  uint8
}

// TimeSignal is a decoded time_signal command.
type TimeSignal struct {
	PTSTime *uint64
}

// Section is one decoded splice_info_section. Exactly one of Insert and
// TimeSignal is non-nil unless the command is splice_null or a type this
// package does not decode.
type Section struct {
	PTSAdjustment uint64
	Tier          uint16
	Command       CommandType
	Insert        *Insert
	TimeSignal    *TimeSignal
	Segmentations []Segmentation
}

// Decode parses a complete splice_info_section, CRC included.
func Decode(section []byte) (*Section, error) {
	if len(section) < 15 {
		return nil, fmt.Errorf("scte35: section too short: %d bytes", len(section))
	}
	if section[0] != TableID {
		return nil, fmt.Errorf("scte35: unexpected table id 0x%02X", section[0])
	}
	if err := verifyCRC(section); err != nil {
		return nil, err
	}

	r := &reader{data: section}
	r.skip(8) // table_id
	r.skip(2) // section_syntax_indicator, private_indicator
	r.skip(2) // sap_type
	sectionLength := int(r.uint(12))
	if 3+sectionLength != len(section) {
		return nil, fmt.Errorf("scte35: section length %d does not match %d bytes", sectionLength, len(section))
	}

	s := &Section{}
	r.skip(8) // protocol_version
	r.skip(7) // encrypted_packet, encryption_algorithm
	s.PTSAdjustment = r.uint(33)
	r.skip(8) // cw_index
	s.Tier = uint16(r.uint(12))

	commandLength := int(r.uint(12))
	s.Command = CommandType(r.uint(8))

	// The command decoders read from the shared reader, so the position
	// after decoding gives the true command length. Sections with an
	// explicit length are realigned to it, which also skips any command
	// types this package does not decode. Legacy sections signal
	// legacyCommandLength and the decoded position is authoritative.
	commandStart := r.pos
	switch s.Command {
	case CommandNull:
	case CommandInsert:
		s.Insert = decodeInsert(r)
	case CommandTimeSignal:
		s.TimeSignal = decodeTimeSignal(r)
	}
	if commandLength != legacyCommandLength {
		r.pos = commandStart + commandLength*8
	}

	descriptorLoopLength := int(r.uint(16))
	if descriptorLoopLength*8 > r.left() {
		return nil, fmt.Errorf("scte35: descriptor loop overruns section")
	}
	segs, err := decodeDescriptorLoop(r.bytes(descriptorLoopLength))
	if err != nil {
		return nil, err
	}
	s.Segmentations = segs

	if r.short {
		return nil, fmt.Errorf("scte35: section truncated")
	}
	return s, nil
}

func decodeInsert(r *reader) *Insert {
	in := &Insert{}
	in.EventID = uint32(r.uint(32))
	in.Cancel = r.bit()
	r.skip(7)
	if in.Cancel {
		return in
	}

	in.OutOfNetwork = r.bit()
	programSplice := r.bit()
	hasDuration := r.bit()
	in.Immediate = r.bit()
	r.skip(4)

	if programSplice {
		if !in.Immediate {
			in.PTSTime = decodeSpliceTime(r)
		}
	} else {
		componentCount := int(r.uint(8))
		for i := 0; i < componentCount; i++ {
			r.skip(8) // component_tag
			if !in.Immediate {
				decodeSpliceTime(r)
			}
		}
	}

	if hasDuration {
		b := &Break{}
		b.AutoReturn = r.bit()
		r.skip(6)
		b.Duration = r.uint(33)
		in.Break = b
	}
	in.UniqueProgramID = uint16(r.uint(16))
	in.AvailNum = uint8(r.uint(8))
	in.AvailsExpected = uint8(r.uint(8))
	return in
}

func decodeTimeSignal(r *reader) *TimeSignal {
	return &TimeSignal{PTSTime: decodeSpliceTime(r)}
}

// decodeSpliceTime reads a splice_time structure and returns the 33-bit
// pts_time, or nil when time_specified_flag is clear.
func decodeSpliceTime(r *reader) *uint64 {
	if !r.bit() {
		r.skip(7)
		return nil
	}
	r.skip(6)
	pts := r.uint(33)
	return &pts
}
