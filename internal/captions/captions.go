// Package captions extracts CEA-608 and CEA-708 caption cues from H.264
// SEI messages.
package captions

import (
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/zsiec/ccx"

	"github.com/zsiec/remux/internal/avc"
	"github.com/zsiec/remux/media"
)

// defaultCueDuration is how long an unterminated cue stays on screen, in
// 90 kHz ticks.
const defaultCueDuration = 2 * 90000

// Extractor decodes caption channels from SEI NAL units. CEA-608 channels
// map to cue channels 1-4; CEA-708 services map to 7-12.
type Extractor struct {
	// Out receives completed cues with raw 90 kHz times.
	Out func(media.Caption)

	log *slog.Logger

	cea608 map[int]*ccx.CEA608Decoder
	cea708 map[int]*ccx.CEA708Service

	dtvccBuf []byte

	videoCount int
	// Per-field 608 control-code dedup: transmissions are doubled for
	// robustness, so a repeated pair within two frames is dropped once.
	lastCtrl      [2][2]byte
	lastWasCtrl   [2]bool
	lastCtrlFrame [2]int

	pending map[int]*media.Caption
}

// NewExtractor returns an Extractor logging through logger; nil selects
// slog.Default.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		log:     logger.With("component", "captions"),
		cea608:  make(map[int]*ccx.CEA608Decoder),
		cea708:  make(map[int]*ccx.CEA708Service),
		pending: make(map[int]*media.Caption),
	}
	for ch := 1; ch <= 4; ch++ {
		e.cea608[ch] = ccx.NewCEA608Decoder()
	}
	for svc := 1; svc <= 6; svc++ {
		e.cea708[svc] = ccx.NewCEA708Service()
	}
	return e
}

// Push inspects one NAL unit. Non-SEI units only advance the frame
// counter used by control-code dedup.
func (e *Extractor) Push(u avc.NALUnit) {
	switch u.Type {
	case h264.NALUTypeAccessUnitDelimiter:
		e.videoCount++
	case h264.NALUTypeSEI:
		e.handleSEI(u.Data, u.PTS)
	}
}

// Flush emits the pending cue on every channel with a default display
// duration.
func (e *Extractor) Flush() {
	for ch, cue := range e.pending {
		cue.EndPTS = cue.StartPTS + defaultCueDuration
		if e.Out != nil {
			e.Out(*cue)
		}
		delete(e.pending, ch)
	}
}

// Reset discards decoder state and pending cues.
func (e *Extractor) Reset() {
	for ch := range e.cea608 {
		e.cea608[ch] = ccx.NewCEA608Decoder()
	}
	for svc := range e.cea708 {
		e.cea708[svc] = ccx.NewCEA708Service()
	}
	e.dtvccBuf = nil
	e.pending = make(map[int]*media.Caption)
	e.videoCount = 0
	e.lastWasCtrl = [2]bool{}
}

func (e *Extractor) handleSEI(seiData []byte, pts int64) {
	cd := ccx.ExtractCaptions(seiData)
	if cd == nil {
		return
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]

		isCtrl := cc1 >= 0x10 && cc1 <= 0x1F
		f := pair.Field
		if isCtrl {
			cp := [2]byte{cc1, cc2}
			frameGap := e.videoCount - e.lastCtrlFrame[f]
			if e.lastWasCtrl[f] && e.lastCtrl[f] == cp && frameGap <= 2 {
				e.lastWasCtrl[f] = false
				continue
			}
			e.lastCtrl[f] = cp
			e.lastWasCtrl[f] = true
			e.lastCtrlFrame[f] = e.videoCount
		} else {
			e.lastWasCtrl[f] = false
		}

		dec := e.cea608[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			e.cue(pair.Channel, pts, text)
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			e.drainDTVCC(pts)
			e.dtvccBuf = e.dtvccBuf[:0]
		}
		e.dtvccBuf = append(e.dtvccBuf, t.Data[0], t.Data[1])
	}
}

func (e *Extractor) drainDTVCC(pts int64) {
	if len(e.dtvccBuf) < 1 {
		return
	}
	packetSize := ccx.DTVCCPacketSize(e.dtvccBuf[0])
	if len(e.dtvccBuf) < packetSize {
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(e.dtvccBuf[:packetSize]) {
		svc := e.cea708[block.ServiceNum]
		if svc == nil {
			continue
		}
		if svc.ProcessBlock(block.Data) {
			if text := svc.DisplayText(); text != "" {
				e.cue(block.ServiceNum+6, pts, text)
			}
		}
	}
	e.dtvccBuf = e.dtvccBuf[packetSize:]
}

// cue closes the channel's previous cue at pts and opens a new one. Cues
// are emitted one step delayed so each carries a real end time.
func (e *Extractor) cue(channel int, pts int64, text string) {
	if prev, ok := e.pending[channel]; ok {
		prev.EndPTS = pts
		if prev.EndPTS <= prev.StartPTS {
			prev.EndPTS = prev.StartPTS + defaultCueDuration
		}
		if e.Out != nil {
			e.Out(*prev)
		}
	}
	e.pending[channel] = &media.Caption{
		StartPTS: pts,
		Text:     text,
		Channel:  channel,
	}
}
