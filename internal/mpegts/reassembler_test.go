package mpegts

import (
	"bytes"
	"testing"

	"github.com/zsiec/remux/media"
)

func pushPES(r *Reassembler, pid uint16, role Role, st uint8, cc uint8, pes []byte) {
	for i, pkt := range packetize(pid, cc, pes) {
		h := parseHeader(pkt)
		offset, _ := payloadOffset(pkt, h)
		r.Push(Payload{
			PID:              pid,
			StreamType:       st,
			Role:             role,
			PayloadUnitStart: i == 0,
			Data:             pkt[offset:],
		})
	}
}

func TestReassemblerVideoEmitsOnNextStart(t *testing.T) {
	t.Parallel()
	var got []media.PESPacket
	r := NewReassembler(nil)
	r.Out = func(pes media.PESPacket) { got = append(got, pes) }

	data := bytes.Repeat([]byte{0xAB}, 400)
	pushPES(r, 0x100, RoleVideo, StreamTypeH264, 0, buildPES(0xE0, 90000, 87000, true, true, data))
	if len(got) != 0 {
		t.Fatalf("PES emitted before next payload unit start")
	}

	pushPES(r, 0x100, RoleVideo, StreamTypeH264, 3, buildPES(0xE0, 93003, 90003, true, true, []byte{0x00}))
	if len(got) != 1 {
		t.Fatalf("PES packets = %d, want 1", len(got))
	}
	pes := got[0]
	if pes.PID != 0x100 || pes.StreamType != StreamTypeH264 {
		t.Errorf("pes identity = %+v", pes)
	}
	if !pes.HasPTS || pes.PTS != 90000 || pes.DTS != 87000 {
		t.Errorf("pts/dts = %d/%d, want 90000/87000", pes.PTS, pes.DTS)
	}
	if !bytes.Equal(pes.Data, data) {
		t.Errorf("payload = %d bytes, want %d", len(pes.Data), len(data))
	}
}

func TestReassemblerAudioRequiresCompletePacket(t *testing.T) {
	t.Parallel()
	var got []media.PESPacket
	r := NewReassembler(nil)
	r.Out = func(pes media.PESPacket) { got = append(got, pes) }

	// Build a bounded audio PES, then drop its last transport packet so
	// the accumulation is short of PES_packet_length.
	pes := buildPES(0xC0, 90000, 90000, true, false, bytes.Repeat([]byte{0xCD}, 300))
	pkts := packetize(0x101, 0, pes)
	for _, pkt := range pkts[:len(pkts)-1] {
		h := parseHeader(pkt)
		offset, _ := payloadOffset(pkt, h)
		r.Push(Payload{
			PID: 0x101, StreamType: StreamTypeAAC, Role: RoleAudio,
			PayloadUnitStart: pkt[1]&0x40 != 0, Data: pkt[offset:],
		})
	}
	pushPES(r, 0x101, RoleAudio, StreamTypeAAC, 5, buildPES(0xC0, 91920, 91920, true, false, []byte{0x01}))
	if len(got) != 0 {
		t.Fatalf("incomplete audio PES emitted")
	}

	pushPES(r, 0x101, RoleAudio, StreamTypeAAC, 9, buildPES(0xC0, 93840, 93840, true, false, []byte{0x02}))
	if len(got) != 1 {
		t.Fatalf("PES packets = %d, want 1", len(got))
	}
	if got[0].PTS != 91920 {
		t.Errorf("pts = %d, want 91920", got[0].PTS)
	}
}

func TestReassemblerDiscontinuityDiscardsPartial(t *testing.T) {
	t.Parallel()
	var got []media.PESPacket
	r := NewReassembler(nil)
	r.Out = func(pes media.PESPacket) { got = append(got, pes) }

	pes := buildPES(0xE0, 90000, 90000, true, true, bytes.Repeat([]byte{0xEF}, 400))
	pkts := packetize(0x100, 0, pes)
	h := parseHeader(pkts[0])
	offset, _ := payloadOffset(pkts[0], h)
	r.Push(Payload{
		PID: 0x100, StreamType: StreamTypeH264, Role: RoleVideo,
		PayloadUnitStart: true, Data: pkts[0][offset:],
	})
	r.Push(Payload{
		PID: 0x100, StreamType: StreamTypeH264, Role: RoleVideo,
		Discontinuous: true, Data: []byte{0xFF, 0xFF},
	})
	r.Flush()

	if len(got) != 0 {
		t.Errorf("discarded accumulation still emitted: %d packets", len(got))
	}
}

func TestReassemblerFlushOrder(t *testing.T) {
	t.Parallel()
	var order []Role
	r := NewReassembler(nil)
	r.Out = func(pes media.PESPacket) {
		switch pes.StreamType {
		case StreamTypeH264:
			order = append(order, RoleVideo)
		case StreamTypeAAC:
			order = append(order, RoleAudio)
		default:
			order = append(order, RoleMetadata)
		}
	}

	// Audio and metadata arrive before video; flush must still drain
	// video first.
	pushPES(r, 0x101, RoleAudio, StreamTypeAAC, 0, buildPES(0xC0, 90000, 90000, true, false, []byte{0x01}))
	pushPES(r, 0x102, RoleMetadata, StreamTypeMetadata, 0, buildPES(0xBD, 90000, 90000, true, false, []byte{0x02}))
	pushPES(r, 0x100, RoleVideo, StreamTypeH264, 0, buildPES(0xE0, 90000, 90000, true, true, []byte{0x03}))
	r.Flush()

	want := []Role{RoleVideo, RoleAudio, RoleMetadata}
	if len(order) != len(want) {
		t.Fatalf("emissions = %d, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("emission %d = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestParsePESTimestamps(t *testing.T) {
	t.Parallel()
	pes, err := parsePES(buildPES(0xE0, 2790000, 2782492, true, true, []byte{0x01, 0x02}))
	if err != nil {
		t.Fatal(err)
	}
	if !pes.HasPTS || pes.PTS != 2790000 || pes.DTS != 2782492 {
		t.Errorf("pts/dts = %d/%d, want 2790000/2782492", pes.PTS, pes.DTS)
	}

	pes, err = parsePES(buildPES(0xC0, 90000, 0, true, false, []byte{0x01}))
	if err != nil {
		t.Fatal(err)
	}
	if pes.PTS != 90000 || pes.DTS != 90000 {
		t.Errorf("PTS-only packet: pts/dts = %d/%d, want both 90000", pes.PTS, pes.DTS)
	}

	if _, err := parsePES([]byte{0x00, 0x00, 0x02, 0xE0, 0x00, 0x00, 0x80, 0x00, 0x00}); err == nil {
		t.Error("bad start code accepted")
	}
}
