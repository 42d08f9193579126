package segment

import (
	"log/slog"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/zsiec/remux/internal/adts"
	"github.com/zsiec/remux/internal/clock"
	"github.com/zsiec/remux/internal/fmp4"
	"github.com/zsiec/remux/media"
)

const audioSamplesPerFrame = 1024

// maxSilenceFill bounds how much silence may be synthesized in front of a
// segment, in 90 kHz ticks.
const maxSilenceFill = clock.VideoClockRate / 2

// Audio groups ADTS frames into sample runs, one sub-stream per PID. The
// video side's timeline anchor trims leading audio so both tracks start
// together, and gaps against the append point are filled with silence.
type Audio struct {
	// Out receives each finished sample run.
	Out func(TrackSegment)

	log                    *slog.Logger
	keepOriginalTimestamps bool

	tracks map[uint16]*media.Track
	order  []uint16
	frames map[uint16][]media.ADTSFrame
	infos  map[uint16]*dtsInfo

	earliestDTS    int64
	hasEarliestDTS bool
	appendStart    int64
	hasAppendStart bool
	videoBMDT      int64
	hasVideoBMDT   bool
}

// NewAudio returns an empty audio segmenter.
func NewAudio(logger *slog.Logger, keepOriginalTimestamps bool) *Audio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Audio{
		log:                    logger.With("component", "audio_segmenter"),
		keepOriginalTimestamps: keepOriginalTimestamps,
		tracks:                 make(map[uint16]*media.Track),
		frames:                 make(map[uint16][]media.ADTSFrame),
		infos:                  make(map[uint16]*dtsInfo),
	}
}

// AddTrack registers the track for one audio PID.
func (s *Audio) AddTrack(t *media.Track) {
	if _, ok := s.tracks[t.PID]; ok {
		return
	}
	s.tracks[t.PID] = t
	s.order = append(s.order, t.PID)
	s.infos[t.PID] = &dtsInfo{}
}

// SetEarliestDTS installs the video timeline start used to trim leading
// audio frames.
func (s *Audio) SetEarliestDTS(dts int64) {
	s.earliestDTS = dts
	s.hasEarliestDTS = true
}

// SetAudioAppendStart installs the expected continuation point for gap
// filling.
func (s *Audio) SetAudioAppendStart(ts int64) {
	s.appendStart = ts
	s.hasAppendStart = true
}

// SetVideoBaseMediaDecodeTime records the video track's most recent decode
// offset, the other bound of the gap-fill window.
func (s *Audio) SetVideoBaseMediaDecodeTime(t int64) {
	s.videoBMDT = t
	s.hasVideoBMDT = true
}

// Push buffers one frame, taking the track configuration from the first
// frame seen on its PID.
func (s *Audio) Push(f media.ADTSFrame) {
	t, ok := s.tracks[f.PID]
	if !ok {
		return
	}
	if t.SampleRate == 0 {
		t.SampleRate = f.SampleRate
		t.ChannelCount = f.ChannelCount
		t.SampleSize = f.SampleSize
		t.ObjectType = f.ObjectType
		t.Timescale = uint32(f.SampleRate)
		t.Codec = adts.CodecString(f.ObjectType)
	}
	s.infos[f.PID].collect(f.PTS, f.DTS)
	s.frames[f.PID] = append(s.frames[f.PID], f)
}

// Flush emits one sample run per PID holding frames.
func (s *Audio) Flush() {
	for _, pid := range s.order {
		s.flushPID(pid)
	}
}

// Reset drops all buffered frames and gap-fill state; registered tracks
// remain.
func (s *Audio) Reset() {
	for pid := range s.frames {
		s.frames[pid] = nil
	}
	for _, info := range s.infos {
		info.clear()
	}
	s.hasEarliestDTS = false
	s.hasAppendStart = false
	s.hasVideoBMDT = false
}

// TimelineReset forgets timeline anchoring ahead of an externally imposed
// decode-time change.
func (s *Audio) TimelineReset() {
	for pid, t := range s.tracks {
		t.HasTimelineStart = false
		s.infos[pid].clear()
		for _, f := range s.frames[pid] {
			s.infos[pid].collect(f.PTS, f.DTS)
		}
	}
}

func (s *Audio) flushPID(pid uint16) {
	track := s.tracks[pid]
	info := s.infos[pid]
	frames := s.frames[pid]

	if s.hasEarliestDTS {
		frames = s.trim(pid, frames, track, info)
	}
	if len(frames) == 0 {
		s.frames[pid] = nil
		info.clear()
		return
	}

	if !track.HasTimelineStart {
		track.TimelineStart.DTS = info.minDTS
		track.TimelineStart.PTS = info.minPTS
		track.HasTimelineStart = true
	}

	bmdt, clamped := baseMediaDecodeTime(track, info.minDTS, s.keepOriginalTimestamps)
	fill := int64(0)
	if s.hasAppendStart && s.hasVideoBMDT {
		frames, bmdt, fill = prefixSilence(track, frames, bmdt, s.appendStart, s.videoBMDT)
	}
	track.BaseMediaDecodeTime = bmdt

	frameDur := adts.FrameDuration(track.SampleRate)
	samples := make([]mp4.FullSample, len(frames))
	dt := bmdt
	for i, f := range frames {
		samples[i] = mp4.FullSample{
			Sample: mp4.Sample{
				Flags: fmp4.AudioSampleFlags(),
				Dur:   audioSamplesPerFrame,
				Size:  uint32(len(f.Data)),
			},
			DecodeTime: uint64(dt),
			Data:       f.Data,
		}
		dt += audioSamplesPerFrame
	}

	last := frames[len(frames)-1]
	out := TrackSegment{
		Track:   track,
		Samples: samples,
		Timing: media.SegmentTimingInfo{
			Start:                      media.TimestampPair{DTS: frames[0].DTS, PTS: frames[0].PTS},
			End:                        media.TimestampPair{DTS: last.DTS + frameDur, PTS: last.PTS + frameDur},
			PrependedContentDuration:   fill,
			BaseMediaDecodeTime:        bmdt,
			BaseMediaDecodeTimeClamped: clamped,
		},
		Span: media.TimingInfo{Start: frames[0].PTS, End: last.PTS + frameDur},
	}
	s.frames[pid] = nil
	info.clear()
	if s.Out != nil {
		s.Out(out)
	}
}

// trim drops frames decoding before the allowed start, so audio does not
// lead the video timeline.
func (s *Audio) trim(pid uint16, frames []media.ADTSFrame, track *media.Track, info *dtsInfo) []media.ADTSFrame {
	earliest := s.earliestDTS - track.TimelineStart.BaseMediaDecodeTime
	if !info.has || info.minDTS >= earliest {
		return frames
	}
	kept := frames[:0]
	for _, f := range frames {
		if f.DTS >= earliest {
			kept = append(kept, f)
		}
	}
	dropped := len(frames) - len(kept)
	if dropped > 0 {
		s.log.Debug("trimmed leading audio frames", "pid", pid, "count", dropped)
	}
	info.clear()
	for _, f := range kept {
		info.collect(f.PTS, f.DTS)
	}
	return kept
}

// prefixSilence fills the gap between the expected append point and the
// first buffered frame with silent frames, pulling the decode offset back
// accordingly. The fill amount is reported in 90 kHz ticks.
func prefixSilence(track *media.Track, frames []media.ADTSFrame, bmdt, appendStart, videoBMDT int64) ([]media.ADTSFrame, int64, int64) {
	bmdtTs := clock.AudioTsToVideoTs(bmdt, track.SampleRate)
	frameDur := adts.FrameDuration(track.SampleRate)

	gap := bmdtTs - max(appendStart, videoBMDT)
	fillCount := gap / frameDur
	fill := fillCount * frameDur
	if fillCount < 1 || fill > maxSilenceFill {
		return frames, bmdt, 0
	}

	silent := adts.SilentFrame(track.ChannelCount)
	if silent == nil {
		silent = frames[0].Data
	}
	for i := int64(0); i < fillCount; i++ {
		first := frames[0]
		frames = append([]media.ADTSFrame{{
			PID:          first.PID,
			PTS:          first.PTS - frameDur,
			DTS:          first.DTS - frameDur,
			Data:         silent,
			ObjectType:   first.ObjectType,
			SampleRate:   first.SampleRate,
			ChannelCount: first.ChannelCount,
			SampleSize:   first.SampleSize,
		}}, frames...)
	}
	bmdt -= clock.VideoTsToAudioTs(fill, track.SampleRate)
	if bmdt < 0 {
		bmdt = 0
	}
	return frames, bmdt, fill
}
