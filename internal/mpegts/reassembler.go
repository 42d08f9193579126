package mpegts

import (
	"log/slog"

	"github.com/zsiec/remux/media"
)

// accumulator collects the TS payloads of one PES packet for a single PID.
type accumulator struct {
	pid        uint16
	streamType uint8
	role       Role
	fragments  [][]byte
	size       int
	started    bool
}

func (a *accumulator) append(data []byte) {
	a.fragments = append(a.fragments, data)
	a.size += len(data)
}

func (a *accumulator) reset() {
	a.fragments = nil
	a.size = 0
	a.started = false
}

func (a *accumulator) bytes() []byte {
	buf := make([]byte, 0, a.size)
	for _, f := range a.fragments {
		buf = append(buf, f...)
	}
	return buf
}

// Reassembler joins transport-stream payloads back into PES packets and
// decodes their headers. A packet is emitted when the next payload unit
// starts, or on Flush for streams whose length field is unreliable.
type Reassembler struct {
	// Out receives each reassembled PES packet.
	Out func(media.PESPacket)

	log   *slog.Logger
	accs  map[uint16]*accumulator
	order []uint16
}

// NewReassembler returns a Reassembler logging through logger; nil selects
// slog.Default.
func NewReassembler(logger *slog.Logger) *Reassembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reassembler{
		log:  logger.With("component", "pes_reassembler"),
		accs: make(map[uint16]*accumulator),
	}
}

// Push adds one classified TS payload to its PID's accumulation. A payload
// unit start closes the previous accumulation; a discontinuity discards it.
func (r *Reassembler) Push(p Payload) {
	acc, ok := r.accs[p.PID]
	if !ok {
		acc = &accumulator{pid: p.PID, streamType: p.StreamType, role: p.Role}
		r.accs[p.PID] = acc
		r.order = append(r.order, p.PID)
	}
	if p.Discontinuous && acc.started {
		r.log.Debug("discarding partial PES after discontinuity", "pid", p.PID, "bytes", acc.size)
		acc.reset()
	}
	if p.PayloadUnitStart {
		r.emit(acc, false)
		acc.reset()
		acc.started = true
	}
	if !acc.started {
		// Mid-packet payload with no start seen; cannot belong to a
		// complete PES.
		return
	}
	if len(p.Data) > 0 {
		acc.append(p.Data)
	}
}

// Flush force-emits every pending accumulation: video first, then audio,
// private data, and timed metadata; PIDs sharing a role drain in arrival
// order.
func (r *Reassembler) Flush() {
	flushRole := func(role Role) {
		for _, pid := range r.order {
			acc := r.accs[pid]
			if acc.role != role {
				continue
			}
			r.emit(acc, true)
			acc.reset()
		}
	}
	flushRole(RoleVideo)
	flushRole(RoleAudio)
	flushRole(RolePrivate)
	flushRole(RoleMetadata)
}

// Reset drops all accumulations and PID state.
func (r *Reassembler) Reset() {
	r.accs = make(map[uint16]*accumulator)
	r.order = nil
}

// emit parses and forwards the accumulation if it holds a usable PES
// packet. Outside a flush, streams with a trustworthy PES_packet_length
// are emitted only when complete, so trailing stuffing or a lost packet
// does not produce a short frame.
func (r *Reassembler) emit(acc *accumulator, flush bool) {
	if acc.size == 0 {
		return
	}
	buf := acc.bytes()
	pes, err := parsePES(buf)
	if err != nil {
		r.log.Debug("discarding malformed PES", "pid", acc.pid, "err", err)
		return
	}
	if !flush && acc.role != RoleVideo {
		if pes.PacketLength == 0 || pes.PacketLength+6 > len(buf) {
			r.log.Debug("discarding incomplete PES", "pid", acc.pid,
				"have", len(buf), "want", pes.PacketLength+6)
			return
		}
	}
	pes.PID = acc.pid
	pes.StreamType = acc.streamType
	pes.PayloadUnitStart = true
	if r.Out != nil {
		r.Out(pes)
	}
}

// parsePES decodes a PES header and returns the packet with its payload.
func parsePES(buf []byte) (media.PESPacket, error) {
	var pes media.PESPacket
	if len(buf) < 9 {
		return pes, errPESTooShort
	}
	if buf[0] != 0x00 || buf[1] != 0x00 || buf[2] != 0x01 {
		return pes, errPESStartCode
	}
	pes.PacketLength = int(buf[4])<<8 | int(buf[5])
	pes.DataAlignment = buf[6]&0x04 != 0
	ptsDtsFlags := buf[7] >> 6
	headerLength := int(buf[8])
	payloadStart := 9 + headerLength
	if payloadStart > len(buf) {
		return pes, errPESHeaderLength
	}
	if ptsDtsFlags&0x02 != 0 {
		if len(buf) < 14 {
			return pes, errPESHeaderLength
		}
		pes.HasPTS = true
		pes.PTS = decodeTimestamp(buf[9:14])
		pes.DTS = pes.PTS
		if ptsDtsFlags&0x01 != 0 {
			if len(buf) < 19 {
				return pes, errPESHeaderLength
			}
			pes.DTS = decodeTimestamp(buf[14:19])
		}
	}
	pes.Data = buf[payloadStart:]
	return pes, nil
}

// decodeTimestamp reads a 33-bit PTS or DTS from its 5-byte marker-bit
// encoding.
func decodeTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
}
