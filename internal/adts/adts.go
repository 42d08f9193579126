// Package adts splits AAC elementary-stream bytes into typed ADTS frames
// and synthesizes silent frames for gap filling.
package adts

import (
	"log/slog"
	"strconv"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/zsiec/remux/internal/clock"
	"github.com/zsiec/remux/media"
)

const samplesPerFrame = 1024

// FrameDuration returns the duration of one AAC frame in 90 kHz ticks,
// rounded up.
func FrameDuration(sampleRate int) int64 {
	return (samplesPerFrame*clock.VideoClockRate + int64(sampleRate) - 1) / int64(sampleRate)
}

// Stream splits an ADTS byte stream into frames across PES boundaries.
// Frames completed within one PES packet share its timestamp, spread by
// one frame duration each.
type Stream struct {
	// Out receives each complete frame.
	Out func(media.ADTSFrame)

	log        *slog.Logger
	pid        uint16
	buffer     []byte
	basePTS    int64
	baseDTS    int64
	frameIndex int64
}

// NewStream returns a Stream logging through logger; nil selects
// slog.Default.
func NewStream(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{log: logger.With("component", "adts")}
}

// Push appends one audio PES packet's payload and emits every frame it
// completes.
func (s *Stream) Push(pes media.PESPacket) {
	if pes.HasPTS {
		s.basePTS = pes.PTS
		s.baseDTS = pes.DTS
		s.frameIndex = 0
	}
	s.pid = pes.PID
	s.buffer = append(s.buffer, pes.Data...)
	s.scan()
}

// Flush discards any partial trailing frame; a truncated ADTS frame cannot
// be decoded.
func (s *Stream) Flush() {
	if len(s.buffer) > 0 {
		s.log.Debug("discarding partial ADTS frame", "bytes", len(s.buffer))
	}
	s.Reset()
}

// Reset drops buffered bytes and timestamp state.
func (s *Stream) Reset() {
	s.buffer = nil
	s.frameIndex = 0
}

func (s *Stream) scan() {
	i := 0
	for {
		// Resynchronize on the 12-bit syncword.
		for i+1 < len(s.buffer) && !(s.buffer[i] == 0xFF && s.buffer[i+1]&0xF0 == 0xF0) {
			i++
		}
		if i+7 > len(s.buffer) {
			break
		}
		frameLength := int(s.buffer[i+3]&0x03)<<11 |
			int(s.buffer[i+4])<<3 |
			int(s.buffer[i+5])>>5
		if frameLength < 7 {
			i++
			continue
		}
		if i+frameLength > len(s.buffer) {
			break
		}
		s.emit(s.buffer[i : i+frameLength])
		i += frameLength
	}
	s.buffer = append(s.buffer[:0], s.buffer[i:]...)
}

func (s *Stream) emit(frame []byte) {
	var pkts mpeg4audio.ADTSPackets
	if err := pkts.Unmarshal(frame); err != nil {
		s.log.Debug("discarding undecodable ADTS frame", "err", err)
		return
	}
	for _, pkt := range pkts {
		duration := FrameDuration(pkt.SampleRate)
		out := media.ADTSFrame{
			PID:          s.pid,
			PTS:          s.basePTS + s.frameIndex*duration,
			DTS:          s.baseDTS + s.frameIndex*duration,
			Data:         pkt.AU,
			ObjectType:   uint8(pkt.Type),
			SampleRate:   pkt.SampleRate,
			ChannelCount: pkt.ChannelCount,
			SampleSize:   16,
		}
		s.frameIndex++
		if s.Out != nil {
			s.Out(out)
		}
	}
}

// CodecString builds the RFC 6381 mp4a codec string for an AAC object
// type.
func CodecString(objectType uint8) string {
	return "mp4a.40." + strconv.Itoa(int(objectType))
}
