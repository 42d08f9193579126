// Package avc turns H.264 elementary-stream bytes into NAL units, frames,
// and groups of pictures, and decodes the sequence parameter set into the
// track configuration.
package avc

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/zsiec/remux/media"
)

// NALUnit is one network abstraction layer unit without its start code.
// Data retains emulation prevention bytes, ready for length-prefixed
// sample data.
type NALUnit struct {
	Type h264.NALUType
	PTS  int64
	DTS  int64
	Data []byte
}

// mark remembers which timestamps govern bytes at and after an offset into
// the stream buffer.
type mark struct {
	offset int
	pts    int64
	dts    int64
}

// Stream splits an H.264 Annex B byte stream into NAL units across PES
// boundaries. Units are tagged with the timestamps of the PES packet in
// which they began.
type Stream struct {
	// Out receives each complete NAL unit.
	Out func(NALUnit)

	buffer    []byte
	marks     []mark
	syncFound bool
	pts       int64
	dts       int64
}

// Push appends one video PES packet's payload and emits every NAL unit
// completed by it.
func (s *Stream) Push(pes media.PESPacket) {
	if pes.HasPTS {
		s.pts = pes.PTS
		s.dts = pes.DTS
		s.marks = append(s.marks, mark{offset: len(s.buffer), pts: s.pts, dts: s.dts})
	}
	s.buffer = append(s.buffer, pes.Data...)

	if !s.syncFound {
		i := findStartCode(s.buffer, 0)
		if i < 0 {
			s.trim(max(0, len(s.buffer)-2))
			return
		}
		s.trim(i + 3)
		s.syncFound = true
	}
	for {
		i := findStartCode(s.buffer, 0)
		if i < 0 {
			return
		}
		s.emit(s.buffer[:i])
		s.trim(i + 3)
	}
}

// Flush emits the trailing NAL unit, if any, and resets scan state.
func (s *Stream) Flush() {
	if s.syncFound {
		s.emit(s.buffer)
	}
	s.Reset()
}

// Reset discards buffered bytes and timestamp state.
func (s *Stream) Reset() {
	s.buffer = nil
	s.marks = nil
	s.syncFound = false
}

// trim drops n bytes from the front of the buffer and rebases the
// timestamp marks.
func (s *Stream) trim(n int) {
	s.buffer = s.buffer[n:]
	kept := s.marks[:0]
	for _, m := range s.marks {
		m.offset -= n
		if m.offset < 0 {
			m.offset = 0
		}
		if len(kept) > 0 && kept[len(kept)-1].offset == m.offset {
			kept[len(kept)-1] = m
			continue
		}
		kept = append(kept, m)
	}
	s.marks = kept
}

func (s *Stream) emit(data []byte) {
	// Strip trailing zero bytes left behind by four-byte start codes.
	for len(data) > 0 && data[len(data)-1] == 0 {
		data = data[:len(data)-1]
	}
	if len(data) == 0 || s.Out == nil {
		return
	}
	pts, dts := s.pts, s.dts
	for _, m := range s.marks {
		if m.offset > 0 {
			break
		}
		pts, dts = m.pts, m.dts
	}
	unit := NALUnit{
		Type: h264.NALUType(data[0] & 0x1F),
		PTS:  pts,
		DTS:  dts,
		Data: append([]byte(nil), data...),
	}
	s.Out(unit)
}

// findStartCode returns the index of the next three-byte start code at or
// after from, or -1.
func findStartCode(buf []byte, from int) int {
	for i := from; i+2 < len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			return i
		}
	}
	return -1
}
