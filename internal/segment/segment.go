// Package segment groups parsed media into fragment-sized runs, derives
// per-track decode offsets, and coalesces the per-track outputs into
// emitted segments.
package segment

import (
	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/zsiec/remux/media"
)

// TrackSegment is one track's contribution to a media segment: the sample
// run plus its timing side records. The coalescer serializes it.
type TrackSegment struct {
	Track   *media.Track
	Samples []mp4.FullSample
	Timing  media.SegmentTimingInfo
	Span    media.TimingInfo
	Gops    []media.GopInfo
}

// dtsInfo accumulates the timestamp extremes observed since the last
// flush.
type dtsInfo struct {
	has    bool
	minDTS int64
	maxDTS int64
	minPTS int64
	maxPTS int64
}

func (i *dtsInfo) collect(pts, dts int64) {
	if !i.has {
		i.has = true
		i.minDTS, i.maxDTS = dts, dts
		i.minPTS, i.maxPTS = pts, pts
		return
	}
	i.minDTS = min(i.minDTS, dts)
	i.maxDTS = max(i.maxDTS, dts)
	i.minPTS = min(i.minPTS, pts)
	i.maxPTS = max(i.maxPTS, pts)
}

func (i *dtsInfo) clear() {
	*i = dtsInfo{}
}

// baseMediaDecodeTime derives the tfdt value for a segment whose earliest
// decode timestamp is minDTS. Audio values are converted into the track's
// sample clock. Negative results clamp to zero; the clamp is reported.
func baseMediaDecodeTime(t *media.Track, minDTS int64, keepOriginalTimestamps bool) (int64, bool) {
	var v int64
	if keepOriginalTimestamps {
		v = minDTS - t.TimelineStart.BaseMediaDecodeTime
	} else {
		v = minDTS - t.TimelineStart.DTS + t.TimelineStart.BaseMediaDecodeTime
	}
	if t.Type == media.TrackTypeAudio {
		v = v * int64(t.SampleRate) / media.VideoClockRate
	}
	if v < 0 {
		return 0, true
	}
	return v, false
}
