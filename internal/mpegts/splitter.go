package mpegts

// Splitter resynchronizes an arbitrary byte stream into 188-byte transport
// stream packets. Input may be chunked at any boundary; bytes that do not
// line up with a sync pattern are discarded.
type Splitter struct {
	// Out receives each complete packet. The slice is owned by the caller
	// until the next Push or Flush.
	Out func(pkt []byte)

	residual []byte
}

// Push appends buf to the internal buffer and emits every complete packet
// found at a verified sync position. A position is verified when the byte
// one packet length ahead is also a sync byte, so a lone 0x47 inside junk
// does not cause a false lock.
func (s *Splitter) Push(buf []byte) {
	s.residual = append(s.residual, buf...)
	b := s.residual
	i := 0
	for i+PacketSize < len(b) {
		if b[i] == SyncByte && b[i+PacketSize] == SyncByte {
			s.Out(b[i : i+PacketSize])
			i += PacketSize
			continue
		}
		i++
	}
	s.residual = append(s.residual[:0], b[i:]...)
}

// Flush emits the residual bytes if they form exactly one packet starting
// with a sync byte, then clears the buffer. A trailing packet at end of
// stream has no successor to verify against, so the pair check is waived.
func (s *Splitter) Flush() {
	if len(s.residual) == PacketSize && s.residual[0] == SyncByte {
		s.Out(s.residual)
	}
	s.residual = s.residual[:0]
}

// Reset discards any buffered bytes.
func (s *Splitter) Reset() {
	s.residual = s.residual[:0]
}
