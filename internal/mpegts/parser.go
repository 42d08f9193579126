package mpegts

import (
	"log/slog"

	"github.com/zsiec/remux/media"
)

// codecName maps an ISO 13818-1 stream_type to the codec family it carries.
// Types other than H.264 and AAC are admitted only in broad mode and surface
// as unsupported codecs downstream; types outside the switch are never
// admitted.
func codecName(st uint8) string {
	switch st {
	case StreamTypeH264:
		return "avc"
	case StreamTypeAAC:
		return "aac"
	case 0x01, 0x02:
		return "mpeg2video"
	case 0x10:
		return "mpeg4video"
	case 0x24:
		return "hevc"
	case 0x42:
		return "avs"
	case 0xDB:
		return "avs3"
	case 0x03, 0x04:
		return "mp3"
	case 0x11:
		return "aac-latm"
	case 0x1C:
		return "aac-raw"
	case 0x81:
		return "ac-3"
	case 0x87:
		return "ec-3"
	}
	return "unknown"
}

// Parser routes 188-byte transport packets: it follows PAT to PMT, builds
// the program map, classifies elementary PIDs, enforces continuity
// counters, and forwards ES payloads to the reassembler. Payloads that
// arrive before the first PMT are queued and replayed once the map is
// known.
type Parser struct {
	// OnProgramMap fires once, when the first PMT is parsed.
	OnProgramMap func(media.TrackInfo)
	// OnPayload receives classified elementary-stream payloads.
	OnPayload func(Payload)

	// BroadStreamTypes admits video and audio stream types beyond
	// H.264/AAC so callers can report them instead of staying silent.
	BroadStreamTypes bool

	log *slog.Logger

	pmtPID     uint16
	havePMTPID bool
	program    *ProgramMap
	waiting    []Payload
	lastCC     map[uint16]uint8
}

// NewParser returns a Parser logging through logger; nil selects
// slog.Default.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		log:    logger.With("component", "ts_parser"),
		lastCC: make(map[uint16]uint8),
	}
}

// Push consumes one 188-byte packet. Packets that fail validation are
// dropped; a transport error poisons the current accumulation for its PID.
func (p *Parser) Push(pkt []byte) {
	if len(pkt) != PacketSize || pkt[0] != SyncByte {
		p.log.Debug("dropping malformed packet", "len", len(pkt))
		return
	}
	h := parseHeader(pkt)
	if h.transportErrorIndicator {
		p.log.Debug("dropping packet with transport error", "pid", h.pid)
		p.poison(h.pid)
		return
	}
	offset, discontinuitySignal := payloadOffset(pkt, h)
	if !h.hasPayload || offset >= PacketSize {
		return
	}
	duplicate, jump := p.trackContinuity(h, discontinuitySignal)
	if duplicate {
		p.log.Debug("dropping duplicate packet", "pid", h.pid, "cc", h.continuityCounter)
		return
	}
	payload := pkt[offset:PacketSize]

	switch {
	case h.pid == pidPAT:
		p.handlePAT(payload, h)
	case p.havePMTPID && h.pid == p.pmtPID:
		p.handlePMT(payload, h)
	default:
		p.handleES(h, payload, jump)
	}
}

// Flush discards payloads still waiting for a PMT; at end of stream they
// can never be classified.
func (p *Parser) Flush() {
	if len(p.waiting) > 0 {
		p.log.Debug("discarding payloads never matched to a program map", "count", len(p.waiting))
		p.waiting = nil
	}
}

// Reset returns the parser to its initial state, forgetting the program
// map and all continuity state.
func (p *Parser) Reset() {
	p.havePMTPID = false
	p.program = nil
	p.waiting = nil
	p.lastCC = make(map[uint16]uint8)
}

// trackContinuity updates the per-PID continuity counter and reports
// whether the packet is a duplicate and whether an unsignaled jump
// occurred. The adaptation-field discontinuity flag waives the jump.
func (p *Parser) trackContinuity(h header, signaled bool) (duplicate, jump bool) {
	last, seen := p.lastCC[h.pid]
	p.lastCC[h.pid] = h.continuityCounter
	if !seen {
		return false, false
	}
	if h.continuityCounter == last {
		return true, false
	}
	if h.continuityCounter != (last+1)&0x0F && !signaled {
		return false, true
	}
	return false, false
}

// poison emits a zero-length discontinuous payload so the reassembler
// drops whatever it accumulated for the PID.
func (p *Parser) poison(pid uint16) {
	if p.program == nil {
		return
	}
	role, st := p.program.RoleOf(pid)
	if role == RoleNone || p.OnPayload == nil {
		return
	}
	p.OnPayload(Payload{PID: pid, StreamType: st, Role: role, Discontinuous: true})
}

func (p *Parser) handlePAT(payload []byte, h header) {
	if !h.payloadUnitStartIndicator {
		return
	}
	pid, err := parsePAT(payload)
	if err != nil {
		p.log.Warn("dropping PAT section", "err", err)
		return
	}
	if !p.havePMTPID {
		p.log.Info("found program map PID", "pid", pid)
	}
	p.havePMTPID = true
	p.pmtPID = pid
}

func (p *Parser) handlePMT(payload []byte, h header) {
	if !h.payloadUnitStartIndicator {
		return
	}
	m, err := parsePMT(payload, p.BroadStreamTypes)
	if err != nil {
		p.log.Warn("dropping PMT section", "err", err)
		return
	}
	if p.program != nil {
		if !sameProgram(p.program, m) {
			p.log.Warn("ignoring changed program map; Reset the transmuxer to adopt it")
		}
		return
	}
	p.program = m
	if m.HasVideo {
		p.log.Info("found video stream", "pid", m.VideoPID, "codec", codecName(m.VideoStreamType))
	}
	for _, a := range m.Audio {
		p.log.Info("found audio stream", "pid", a.PID, "codec", codecName(a.StreamType), "languages", a.Languages)
	}
	if p.OnProgramMap != nil {
		p.OnProgramMap(trackInfo(m))
	}
	p.drainWaiting()
}

func (p *Parser) handleES(h header, payload []byte, jump bool) {
	out := Payload{
		PID:              h.pid,
		PayloadUnitStart: h.payloadUnitStartIndicator,
		Discontinuous:    jump,
		Data:             payload,
	}
	if p.program == nil {
		// Classification needs the PMT; keep a copy until it arrives.
		out.Data = append([]byte(nil), payload...)
		p.waiting = append(p.waiting, out)
		return
	}
	p.route(out)
}

func (p *Parser) route(out Payload) {
	role, st := p.program.RoleOf(out.PID)
	if role == RoleNone {
		return
	}
	out.Role = role
	out.StreamType = st
	if p.OnPayload != nil {
		p.OnPayload(out)
	}
}

func (p *Parser) drainWaiting() {
	for _, w := range p.waiting {
		p.route(w)
	}
	p.waiting = nil
}

func sameProgram(a, b *ProgramMap) bool {
	if a.HasVideo != b.HasVideo || a.VideoPID != b.VideoPID || len(a.Audio) != len(b.Audio) {
		return false
	}
	for i := range a.Audio {
		if a.Audio[i].PID != b.Audio[i].PID || a.Audio[i].StreamType != b.Audio[i].StreamType {
			return false
		}
	}
	return true
}

// trackInfo converts the program map into the advertised track listing.
func trackInfo(m *ProgramMap) media.TrackInfo {
	info := media.TrackInfo{}
	if m.HasVideo {
		info.Video = &media.VideoTrackInfo{
			PID:   m.VideoPID,
			Codec: codecName(m.VideoStreamType),
			Type:  media.TrackTypeVideo,
		}
	}
	for _, a := range m.Audio {
		info.Audio = append(info.Audio, media.AudioTrackInfo{
			PID:       a.PID,
			Codec:     codecName(a.StreamType),
			Type:      media.TrackTypeAudio,
			Languages: a.Languages,
		})
	}
	for _, s := range m.Private {
		info.Subtitles = append(info.Subtitles, media.SubtitleTrackInfo{
			PID:      s.PID,
			Kind:     s.Kind,
			Language: s.Language,
		})
	}
	return info
}
