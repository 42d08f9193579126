// Package metadata extracts ID3v2 timed-metadata tags carried in private
// PES streams.
package metadata

import (
	"log/slog"

	"github.com/zsiec/remux/media"
)

// Extractor parses one ID3v2 tag per PES packet into a timed-metadata
// cue.
type Extractor struct {
	// Out receives each decoded tag with raw 90 kHz times.
	Out func(media.ID3Frame)

	log *slog.Logger
}

// NewExtractor returns an Extractor logging through logger; nil selects
// slog.Default.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{log: logger.With("component", "id3")}
}

// Push decodes the ID3 tag in one metadata PES packet. Packets without a
// timestamp or a valid tag are dropped.
func (e *Extractor) Push(pes media.PESPacket) {
	if !pes.HasPTS {
		e.log.Debug("dropping metadata PES without PTS")
		return
	}
	data := pes.Data
	if len(data) < 10 || data[0] != 'I' || data[1] != 'D' || data[2] != '3' {
		e.log.Debug("dropping PES without ID3 tag", "len", len(data))
		return
	}
	tagSize := syncsafe(data[6:10])
	tagEnd := 10 + tagSize
	if tagEnd > len(data) {
		tagEnd = len(data)
	}
	frameStart := 10
	if data[5]&0x40 != 0 {
		if len(data) < 14 {
			return
		}
		frameStart = 10 + syncsafe(data[10:14])
	}

	var frames []media.ID3SubFrame
	for i := frameStart; i+10 <= tagEnd; {
		if data[i] == 0 {
			// Padding.
			break
		}
		frameSize := syncsafe(data[i+4 : i+8])
		body := i + 10
		if body+frameSize > tagEnd {
			break
		}
		frames = append(frames, media.ID3SubFrame{
			ID:   string(data[i : i+4]),
			Data: append([]byte(nil), data[i+10:body+frameSize]...),
		})
		i = body + frameSize
	}
	if len(frames) == 0 {
		return
	}
	if e.Out != nil {
		e.Out(media.ID3Frame{
			PTS:    pes.PTS,
			DTS:    pes.DTS,
			Data:   append([]byte(nil), data[:tagEnd]...),
			Frames: frames,
		})
	}
}

// syncsafe decodes a 28-bit synchsafe integer.
func syncsafe(b []byte) int {
	return int(b[0]&0x7F)<<21 | int(b[1]&0x7F)<<14 | int(b[2]&0x7F)<<7 | int(b[3]&0x7F)
}
