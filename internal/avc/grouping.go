package avc

import "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

// Frame is one access unit: the NAL units between consecutive access unit
// delimiters, with the delimiter included as the first unit.
type Frame struct {
	Units      []NALUnit
	PTS        int64
	DTS        int64
	Duration   int64
	ByteLength int
	KeyFrame   bool
}

// GOP is a group of pictures starting at a keyframe.
type GOP struct {
	Frames     []Frame
	PTS        int64
	DTS        int64
	Duration   int64
	ByteLength int
	NALCount   int
}

// GOPList carries a run of GOPs with aggregate accounting.
type GOPList struct {
	GOPs       []GOP
	ByteLength int
	NALCount   int
	Duration   int64
	PTS        int64
	DTS        int64
}

// GroupFrames splits a NAL unit run into frames at access unit delimiters.
// Units before the first delimiter are discarded. A frame's duration is
// the decode-time distance to the next frame; the final frame inherits the
// previous frame's duration.
func GroupFrames(units []NALUnit) []Frame {
	var frames []Frame
	var cur *Frame
	for _, u := range units {
		if u.Type == h264.NALUTypeAccessUnitDelimiter {
			if cur != nil && len(cur.Units) > 0 {
				frames = append(frames, *cur)
			}
			cur = &Frame{PTS: u.PTS, DTS: u.DTS}
		}
		if cur == nil {
			continue
		}
		if u.Type == h264.NALUTypeIDR {
			cur.KeyFrame = true
		}
		cur.Duration = u.DTS - cur.DTS
		cur.ByteLength += len(u.Data)
		cur.Units = append(cur.Units, u)
	}
	if cur == nil || len(cur.Units) == 0 {
		return frames
	}
	frames = append(frames, *cur)
	for i := 0; i+1 < len(frames); i++ {
		frames[i].Duration = frames[i+1].DTS - frames[i].DTS
	}
	last := &frames[len(frames)-1]
	if last.Duration <= 0 && len(frames) > 1 {
		last.Duration = frames[len(frames)-2].Duration
	}
	return frames
}

// GroupGOPs gathers frames into groups of pictures, opening a new group at
// each keyframe. Frames before the first keyframe form a leading
// keyframeless group that callers resolve by fusion or keyframe pull.
func GroupGOPs(frames []Frame) GOPList {
	var list GOPList
	var cur *GOP
	for _, f := range frames {
		if f.KeyFrame || cur == nil {
			if cur != nil {
				list.append(*cur)
			}
			cur = &GOP{PTS: f.PTS, DTS: f.DTS}
		}
		cur.Duration += f.Duration
		cur.ByteLength += f.ByteLength
		cur.NALCount += len(f.Units)
		cur.Frames = append(cur.Frames, f)
	}
	if cur != nil {
		if cur.Duration <= 0 && len(list.GOPs) > 0 {
			cur.Duration = list.GOPs[len(list.GOPs)-1].Duration
		}
		list.append(*cur)
	}
	return list
}

func (l *GOPList) append(g GOP) {
	if len(l.GOPs) == 0 {
		l.PTS = g.PTS
		l.DTS = g.DTS
	}
	l.GOPs = append(l.GOPs, g)
	l.ByteLength += g.ByteLength
	l.NALCount += g.NALCount
	l.Duration += g.Duration
}

// Prepend places a fused group before the list and rebases the aggregate
// timing to it.
func (l *GOPList) Prepend(g GOP) {
	l.GOPs = append([]GOP{g}, l.GOPs...)
	l.ByteLength += g.ByteLength
	l.NALCount += g.NALCount
	l.Duration += g.Duration
	l.PTS = g.PTS
	l.DTS = g.DTS
}

// ExtendFirstKeyFrame resolves a leading keyframeless group by dropping it
// and stretching the first frame of the next group backwards over the
// removed time span. Lists that already start on a keyframe, or that hold
// a single group, are returned unchanged.
func ExtendFirstKeyFrame(l GOPList) GOPList {
	if len(l.GOPs) < 2 || l.GOPs[0].Frames[0].KeyFrame {
		return l
	}
	dropped := l.GOPs[0]
	l.GOPs = l.GOPs[1:]
	l.ByteLength -= dropped.ByteLength
	l.NALCount -= dropped.NALCount

	first := &l.GOPs[0]
	firstFrame := &first.Frames[0]
	firstFrame.DTS = dropped.DTS
	firstFrame.PTS = dropped.PTS
	firstFrame.Duration += dropped.Duration
	first.DTS = dropped.DTS
	first.PTS = dropped.PTS
	first.Duration += dropped.Duration
	l.PTS = dropped.PTS
	l.DTS = dropped.DTS
	return l
}
