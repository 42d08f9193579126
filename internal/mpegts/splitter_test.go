package mpegts

import (
	"bytes"
	"testing"
)

func TestSplitterResyncAcrossJunk(t *testing.T) {
	t.Parallel()
	var got [][]byte
	s := &Splitter{Out: func(pkt []byte) {
		got = append(got, append([]byte(nil), pkt...))
	}}

	a := buildPacket(0x100, 0, true, []byte{0x01})
	b := buildPacket(0x101, 1, false, []byte{0x02})
	stream := append([]byte{0xDE, 0xAD, 0x47, 0xBE}, a...)
	stream = append(stream, b...)

	s.Push(stream)
	s.Flush()

	if len(got) != 2 {
		t.Fatalf("packets = %d, want 2", len(got))
	}
	if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Error("emitted packets do not match input packets")
	}
}

func TestSplitterChunkedInput(t *testing.T) {
	t.Parallel()
	count := 0
	s := &Splitter{Out: func(pkt []byte) {
		if len(pkt) != PacketSize || pkt[0] != SyncByte {
			t.Errorf("bad packet: len=%d first=0x%02X", len(pkt), pkt[0])
		}
		count++
	}}

	var stream []byte
	for i := 0; i < 5; i++ {
		stream = append(stream, buildPacket(0x100, uint8(i), false, nil)...)
	}
	// Push in chunks that never line up with a packet boundary.
	for i := 0; i < len(stream); i += 61 {
		s.Push(stream[i:min(i+61, len(stream))])
	}
	s.Flush()

	if count != 5 {
		t.Errorf("packets = %d, want 5", count)
	}
}

func TestSplitterTrailingPacketNeedsFlush(t *testing.T) {
	t.Parallel()
	count := 0
	s := &Splitter{Out: func([]byte) { count++ }}

	s.Push(buildPacket(0x100, 0, false, nil))
	if count != 0 {
		t.Fatalf("packet emitted without a successor to verify against")
	}
	s.Flush()
	if count != 1 {
		t.Errorf("packets after flush = %d, want 1", count)
	}
}

func FuzzSplitter(f *testing.F) {
	f.Add(buildPacket(0x100, 0, true, []byte{0x01, 0x02}))
	f.Add([]byte{0x47, 0x47, 0x47})
	f.Add(append([]byte{0x00, 0x47}, buildPacket(0, 0, false, nil)...))

	f.Fuzz(func(t *testing.T, data []byte) {
		s := &Splitter{Out: func(pkt []byte) {
			if len(pkt) != PacketSize {
				t.Fatalf("emitted %d bytes, want %d", len(pkt), PacketSize)
			}
			if pkt[0] != SyncByte {
				t.Fatalf("emitted packet without sync byte")
			}
		}}
		s.Push(data)
		s.Flush()
	})
}
