package scte35

import (
	"bytes"
	"testing"
)

// bitBuf assembles sections MSB-first for test fixtures.
type bitBuf struct {
	b []byte
	n int
}

func (w *bitBuf) put(bits int, v uint64) {
	for i := bits - 1; i >= 0; i-- {
		if w.n%8 == 0 {
			w.b = append(w.b, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.b[w.n/8] |= 1 << (7 - uint(w.n%8))
		}
		w.n++
	}
}

// bitwiseCRC is an independent MPEG-2 CRC so the fixtures do not depend on
// the table under test.
func bitwiseCRC(data []byte) uint32 {
	crc := ^uint32(0)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// buildSection wraps command and descriptor bytes in a splice_info_section
// with a valid length and CRC.
func buildSection(cmdType CommandType, cmdLen int, cmd, descLoop []byte) []byte {
	sectionLength := 11 + len(cmd) + 2 + len(descLoop) + 4

	w := &bitBuf{}
	w.put(8, uint64(TableID))
	w.put(2, 0) // section_syntax_indicator, private_indicator
	w.put(2, 3) // sap_type
	w.put(12, uint64(sectionLength))
	w.put(8, 0)  // protocol_version
	w.put(7, 0)  // encrypted_packet, encryption_algorithm
	w.put(33, 0) // pts_adjustment
	w.put(8, 0)  // cw_index
	w.put(12, 0xFFF)
	w.put(12, uint64(cmdLen))
	w.put(8, uint64(cmdType))
	for _, b := range cmd {
		w.put(8, uint64(b))
	}
	w.put(16, uint64(len(descLoop)))
	for _, b := range descLoop {
		w.put(8, uint64(b))
	}
	w.put(32, uint64(bitwiseCRC(w.b)))
	return w.b
}

func timeSignalCmd(pts uint64) []byte {
	w := &bitBuf{}
	w.put(1, 1) // time_specified_flag
	w.put(6, 0x3F)
	w.put(33, pts)
	return w.b
}

func insertCmd(eventID uint32, pts uint64, breakDur uint64) []byte {
	w := &bitBuf{}
	w.put(32, uint64(eventID))
	w.put(1, 0) // cancel
	w.put(7, 0x7F)
	w.put(1, 1) // out_of_network
	w.put(1, 1) // program_splice_flag
	w.put(1, 1) // duration_flag
	w.put(1, 0) // splice_immediate_flag
	w.put(4, 0x0F)
	w.put(1, 1) // time_specified_flag
	w.put(6, 0x3F)
	w.put(33, pts)
	w.put(1, 1) // auto_return
	w.put(6, 0x3F)
	w.put(33, breakDur)
	w.put(16, 0x0101) // unique_program_id
	w.put(8, 1)       // avail_num
	w.put(8, 4)       // avails_expected
	return w.b
}

func segmentationDesc(eventID uint32, typeID uint8, dur uint64, upid []byte) []byte {
	w := &bitBuf{}
	w.put(32, uint64(eventID))
	w.put(1, 0) // cancel
	w.put(1, 1) // compliance indicator
	w.put(6, 0x3F)
	w.put(1, 1) // program_segmentation_flag
	w.put(1, 1) // segmentation_duration_flag
	w.put(1, 1) // delivery_not_restricted_flag
	w.put(5, 0x1F)
	w.put(40, dur)
	w.put(8, 0x08) // upid type TI
	w.put(8, uint64(len(upid)))
	for _, b := range upid {
		w.put(8, uint64(b))
	}
	w.put(8, uint64(typeID))
	w.put(8, 0) // segment_num
	w.put(8, 1) // segments_expected
	body := w.b

	out := []byte{segmentationDescriptorTag, byte(4 + len(body)), 'C', 'U', 'E', 'I'}
	return append(out, body...)
}

func TestDecodeTimeSignalWithSegmentation(t *testing.T) {
	t.Parallel()
	upid := []byte{0x00, 0x00, 0x00, 0x2A}
	desc := segmentationDesc(7, 0x34, 2700000, upid)
	cmd := timeSignalCmd(900000)
	sec, err := Decode(buildSection(CommandTimeSignal, len(cmd), cmd, desc))
	if err != nil {
		t.Fatal(err)
	}

	if sec.Command != CommandTimeSignal || sec.TimeSignal == nil {
		t.Fatalf("command = %#x, signal %v", sec.Command, sec.TimeSignal)
	}
	if sec.TimeSignal.PTSTime == nil || *sec.TimeSignal.PTSTime != 900000 {
		t.Errorf("pts = %v, want 900000", sec.TimeSignal.PTSTime)
	}
	if len(sec.Segmentations) != 1 {
		t.Fatalf("segmentations = %d, want 1", len(sec.Segmentations))
	}
	seg := sec.Segmentations[0]
	if seg.EventID != 7 || seg.TypeID != 0x34 {
		t.Errorf("seg = %+v", seg)
	}
	if seg.Duration == nil || *seg.Duration != 2700000 {
		t.Errorf("duration = %v, want 2700000", seg.Duration)
	}
	if !bytes.Equal(seg.UPID, upid) {
		t.Errorf("upid = %x", seg.UPID)
	}
	if seg.Num != 0 || seg.Expected != 1 {
		t.Errorf("segment %d of %d", seg.Num, seg.Expected)
	}
	if got := seg.TypeName(); got != "Provider Placement Opportunity Start" {
		t.Errorf("type name = %q", got)
	}
}

func TestDecodeSpliceInsert(t *testing.T) {
	t.Parallel()
	cmd := insertCmd(42, 1800000, 8100000)
	sec, err := Decode(buildSection(CommandInsert, len(cmd), cmd, nil))
	if err != nil {
		t.Fatal(err)
	}

	in := sec.Insert
	if in == nil {
		t.Fatal("no insert command decoded")
	}
	if in.EventID != 42 || !in.OutOfNetwork || in.Cancel || in.Immediate {
		t.Errorf("insert = %+v", in)
	}
	if in.PTSTime == nil || *in.PTSTime != 1800000 {
		t.Errorf("pts = %v, want 1800000", in.PTSTime)
	}
	if in.Break == nil || in.Break.Duration != 8100000 || !in.Break.AutoReturn {
		t.Errorf("break = %+v", in.Break)
	}
	if in.UniqueProgramID != 0x0101 || in.AvailNum != 1 || in.AvailsExpected != 4 {
		t.Errorf("avail = %d %d/%d", in.UniqueProgramID, in.AvailNum, in.AvailsExpected)
	}
}

func TestDecodeCancelledInsert(t *testing.T) {
	t.Parallel()
	w := &bitBuf{}
	w.put(32, 42)
	w.put(1, 1) // cancel
	w.put(7, 0x7F)
	sec, err := Decode(buildSection(CommandInsert, len(w.b), w.b, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !sec.Insert.Cancel {
		t.Error("cancel indicator lost")
	}
	if sec.Insert.PTSTime != nil || sec.Insert.Break != nil {
		t.Error("cancelled insert carried splice fields")
	}
}

func TestDecodeNullCommand(t *testing.T) {
	t.Parallel()
	sec, err := Decode(buildSection(CommandNull, 0, nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	if sec.Command != CommandNull || sec.Insert != nil || sec.TimeSignal != nil {
		t.Errorf("section = %+v", sec)
	}
}

func TestDecodeLegacyCommandLength(t *testing.T) {
	t.Parallel()
	cmd := timeSignalCmd(450000)
	sec, err := Decode(buildSection(CommandTimeSignal, legacyCommandLength, cmd, nil))
	if err != nil {
		t.Fatal(err)
	}
	if sec.TimeSignal == nil || sec.TimeSignal.PTSTime == nil || *sec.TimeSignal.PTSTime != 450000 {
		t.Errorf("signal = %+v", sec.TimeSignal)
	}
}

func TestDecodeSkipsForeignDescriptors(t *testing.T) {
	t.Parallel()
	avail := []byte{0x00, 0x08, 'C', 'U', 'E', 'I', 0x00, 0x00, 0x00, 0x01}
	seg := segmentationDesc(9, 0x35, 0, nil)
	cmd := timeSignalCmd(90000)
	sec, err := Decode(buildSection(CommandTimeSignal, len(cmd), cmd, append(avail, seg...)))
	if err != nil {
		t.Fatal(err)
	}
	if len(sec.Segmentations) != 1 || sec.Segmentations[0].EventID != 9 {
		t.Fatalf("segmentations = %+v", sec.Segmentations)
	}
}

func TestDecodeRejectsCorruptSections(t *testing.T) {
	t.Parallel()
	cmd := timeSignalCmd(90000)
	good := buildSection(CommandTimeSignal, len(cmd), cmd, nil)

	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xFF
	if _, err := Decode(bad); err == nil {
		t.Error("CRC corruption accepted")
	}

	wrongTable := append([]byte(nil), good...)
	wrongTable[0] = 0x02
	if _, err := Decode(wrongTable); err == nil {
		t.Error("non-splice table id accepted")
	}

	if _, err := Decode(good[:10]); err == nil {
		t.Error("truncated section accepted")
	}
}
