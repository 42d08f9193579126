package segment

import (
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/zsiec/remux/internal/avc"
	"github.com/zsiec/remux/internal/fmp4"
	"github.com/zsiec/remux/media"
)

// Video groups H.264 NAL units into keyframe-led sample runs. Each Flush
// emits at most one run, always opening on an IDR access unit, using the
// GOP cache or keyframe pulling to repair segments that arrive without
// one.
type Video struct {
	// Out receives the finished sample run.
	Out func(TrackSegment)
	// OnTimelineStart fires on every emitting flush with the track's
	// timeline anchor, which the audio side uses for trimming.
	OnTimelineStart func(media.TimelineStart)

	log                    *slog.Logger
	track                  *media.Track
	keepOriginalTimestamps bool
	alignAtEnd             bool

	units           []avc.NALUnit
	cache           avc.GOPCache
	alignWith       []media.GopInfo
	waitForKeyFrame bool
	info            dtsInfo
}

// NewVideo returns a segmenter for track, initially waiting for a
// keyframe.
func NewVideo(track *media.Track, logger *slog.Logger, keepOriginalTimestamps, alignAtEnd bool) *Video {
	if logger == nil {
		logger = slog.Default()
	}
	return &Video{
		log:                    logger.With("component", "video_segmenter"),
		track:                  track,
		keepOriginalTimestamps: keepOriginalTimestamps,
		alignAtEnd:             alignAtEnd,
		waitForKeyFrame:        true,
	}
}

// Push buffers one NAL unit, folding parameter sets into the track
// configuration.
func (s *Video) Push(u avc.NALUnit) {
	s.info.collect(u.PTS, u.DTS)
	switch u.Type {
	case h264.NALUTypeSPS:
		cfg, err := avc.ParseSPS(u.Data)
		if err != nil {
			s.log.Debug("ignoring undecodable SPS", "err", err)
			break
		}
		s.track.SPS = cfg.SPS
		s.track.Width = cfg.Width
		s.track.Height = cfg.Height
		s.track.Profile = cfg.Profile
		s.track.ProfileCompat = cfg.ProfileCompat
		s.track.Level = cfg.Level
		s.track.Codec = cfg.Codec
	case h264.NALUTypePPS:
		s.track.PPS = append([]byte(nil), u.Data...)
	}
	s.units = append(s.units, u)
}

// AlignGopsWith installs the alignment list used to trim future segments.
func (s *Video) AlignGopsWith(gops []media.GopInfo) {
	s.alignWith = gops
}

// Flush builds and emits a segment from the buffered units. Units after
// the last access unit delimiter are retained so a segment always ends on
// a complete access unit.
func (s *Video) Flush() {
	units := s.units
	s.units = nil

	first := indexOfAUD(units, 0)
	if first < 0 {
		s.recollect(nil)
		return
	}
	units = units[first:]

	if s.waitForKeyFrame && !containsIDR(units) {
		s.recollect(units)
		return
	}

	last := lastIndexOfAUD(units)
	if last == 0 {
		s.recollect(units)
		return
	}
	seg := units[:last]
	retained := units[last:]

	frames := avc.GroupFrames(seg)
	if len(frames) == 0 {
		s.recollect(retained)
		return
	}
	gops := avc.GroupGOPs(frames)

	prepended := int64(0)
	if !gops.GOPs[0].Frames[0].KeyFrame {
		minDTS := int64(math.MinInt64)
		if s.track.HasTimelineStart {
			minDTS = s.track.TimelineStart.DTS
		}
		if g, ok := s.cache.ForFusion(seg[0].DTS, s.track.SPS, s.track.PPS, minDTS); ok {
			prepended = g.Duration
			gops.Prepend(g)
		} else {
			gops = avc.ExtendFirstKeyFrame(gops)
			if !gops.GOPs[0].Frames[0].KeyFrame {
				s.log.Debug("no keyframe available, deferring segment", "frames", len(frames))
				s.recollect(append(seg, retained...))
				return
			}
		}
	}

	if len(s.alignWith) > 0 {
		aligned, ok := s.alignGOPs(gops)
		if !ok {
			lastGop := gops.GOPs[len(gops.GOPs)-1]
			s.cache.Add(lastGop, s.track.SPS, s.track.PPS)
			s.log.Debug("no gop alignment possible, dropping segment")
			s.recollect(retained)
			return
		}
		gops = aligned
	}

	if !s.track.HasTimelineStart {
		s.track.TimelineStart.DTS = s.info.minDTS
		s.track.TimelineStart.PTS = s.info.minPTS
		s.track.HasTimelineStart = true
	}
	if s.OnTimelineStart != nil {
		s.OnTimelineStart(s.track.TimelineStart)
	}

	bmdt, clamped := baseMediaDecodeTime(s.track, s.info.minDTS, s.keepOriginalTimestamps)
	s.track.BaseMediaDecodeTime = bmdt

	samples := buildVideoSamples(gops, bmdt)
	s.cache.Add(gops.GOPs[len(gops.GOPs)-1], s.track.SPS, s.track.PPS)

	lastGop := gops.GOPs[len(gops.GOPs)-1]
	out := TrackSegment{
		Track:   s.track,
		Samples: samples,
		Timing: media.SegmentTimingInfo{
			Start:                      media.TimestampPair{DTS: gops.DTS, PTS: gops.PTS},
			End:                        media.TimestampPair{DTS: lastGop.DTS + lastGop.Duration, PTS: lastGop.PTS + lastGop.Duration},
			PrependedContentDuration:   prepended,
			BaseMediaDecodeTime:        bmdt,
			BaseMediaDecodeTimeClamped: clamped,
		},
		Span: media.TimingInfo{Start: gops.PTS, End: gops.PTS + gops.Duration},
		Gops: gopInfos(gops),
	}
	s.waitForKeyFrame = false
	s.recollect(retained)
	if s.Out != nil {
		s.Out(out)
	}
}

// Reset returns the segmenter to its initial state, waiting for a
// keyframe again.
func (s *Video) Reset() {
	s.units = nil
	s.cache.Reset()
	s.info.clear()
	s.waitForKeyFrame = true
}

// TimelineReset forgets timeline anchoring and cached groups ahead of an
// externally imposed decode-time change.
func (s *Video) TimelineReset() {
	s.track.HasTimelineStart = false
	s.info.clear()
	s.recollect(s.units)
	s.cache.Reset()
}

// recollect installs units as the retained buffer and rebuilds the
// timestamp extremes from it.
func (s *Video) recollect(units []avc.NALUnit) {
	s.units = units
	s.info.clear()
	for _, u := range units {
		s.info.collect(u.PTS, u.DTS)
	}
}

func (s *Video) alignGOPs(gops avc.GOPList) (avc.GOPList, bool) {
	if s.alignAtEnd {
		return alignGOPsAtEnd(gops, s.alignWith)
	}
	return alignGOPsAtStart(gops, s.alignWith)
}

// alignGOPsAtStart drops leading groups whose presentation time falls
// before the nearest alignment point.
func alignGOPsAtStart(gops avc.GOPList, align []media.GopInfo) (avc.GOPList, bool) {
	ai, gi := 0, 0
	for ai < len(align) && gi < len(gops.GOPs) {
		if align[ai].PTS == gops.GOPs[gi].PTS {
			break
		}
		if gops.GOPs[gi].PTS > align[ai].PTS {
			ai++
			continue
		}
		gi++
	}
	if gi == 0 {
		return gops, true
	}
	if gi == len(gops.GOPs) {
		return avc.GOPList{}, false
	}
	return rebuildList(gops.GOPs[gi:]), true
}

// alignGOPsAtEnd trims from the tail backwards to the last alignment
// match, falling back to the last group not beyond the final alignment
// point.
func alignGOPsAtEnd(gops avc.GOPList, align []media.GopInfo) (avc.GOPList, bool) {
	ai := len(align) - 1
	gi := len(gops.GOPs) - 1
	alignEnd := -1
	matched := false
	for ai >= 0 && gi >= 0 {
		if align[ai].PTS == gops.GOPs[gi].PTS {
			matched = true
			break
		}
		if align[ai].PTS > gops.GOPs[gi].PTS {
			ai--
			continue
		}
		if ai == len(align)-1 {
			alignEnd = gi
		}
		gi--
	}
	if !matched && alignEnd < 0 {
		return avc.GOPList{}, false
	}
	trim := alignEnd
	if matched {
		trim = gi
	}
	if trim == 0 {
		return gops, true
	}
	return rebuildList(gops.GOPs[trim:]), true
}

func rebuildList(gops []avc.GOP) avc.GOPList {
	var l avc.GOPList
	for i, g := range gops {
		if i == 0 {
			l.PTS = g.PTS
			l.DTS = g.DTS
		}
		l.GOPs = append(l.GOPs, g)
		l.ByteLength += g.ByteLength
		l.NALCount += g.NALCount
		l.Duration += g.Duration
	}
	return l
}

// buildVideoSamples flattens groups into length-prefixed samples with
// decode times running from the base media decode time.
func buildVideoSamples(gops avc.GOPList, bmdt int64) []mp4.FullSample {
	var samples []mp4.FullSample
	dt := bmdt
	for _, g := range gops.GOPs {
		for _, f := range g.Frames {
			data := avccData(f)
			samples = append(samples, mp4.FullSample{
				Sample: mp4.Sample{
					Flags:                 fmp4.VideoSampleFlags(f.KeyFrame),
					Dur:                   uint32(f.Duration),
					Size:                  uint32(len(data)),
					CompositionTimeOffset: int32(f.PTS - f.DTS),
				},
				DecodeTime: uint64(dt),
				Data:       data,
			})
			dt += f.Duration
		}
	}
	return samples
}

// avccData serializes a frame's NAL units with four-byte length prefixes.
func avccData(f avc.Frame) []byte {
	buf := make([]byte, 0, f.ByteLength+4*len(f.Units))
	var sz [4]byte
	for _, u := range f.Units {
		binary.BigEndian.PutUint32(sz[:], uint32(len(u.Data)))
		buf = append(buf, sz[:]...)
		buf = append(buf, u.Data...)
	}
	return buf
}

func gopInfos(gops avc.GOPList) []media.GopInfo {
	infos := make([]media.GopInfo, len(gops.GOPs))
	for i, g := range gops.GOPs {
		infos[i] = media.GopInfo{
			PTS:        g.PTS,
			DTS:        g.DTS,
			Duration:   g.Duration,
			ByteLength: g.ByteLength,
			FrameCount: len(g.Frames),
		}
	}
	return infos
}

func indexOfAUD(units []avc.NALUnit, from int) int {
	for i := from; i < len(units); i++ {
		if units[i].Type == h264.NALUTypeAccessUnitDelimiter {
			return i
		}
	}
	return -1
}

func lastIndexOfAUD(units []avc.NALUnit) int {
	for i := len(units) - 1; i >= 0; i-- {
		if units[i].Type == h264.NALUTypeAccessUnitDelimiter {
			return i
		}
	}
	return -1
}

func containsIDR(units []avc.NALUnit) bool {
	for _, u := range units {
		if u.Type == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}
