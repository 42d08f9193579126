package segment

import (
	"errors"
	"log/slog"

	"github.com/zsiec/remux/internal/clock"
	"github.com/zsiec/remux/internal/fmp4"
	"github.com/zsiec/remux/media"
)

// ErrNoTracks reports a coalescer holding data with no registered tracks;
// the transmuxer must be reset to recover.
var ErrNoTracks = errors.New("segment: no tracks registered")

// Coalescer is the barrier at the end of the pipeline. In remux mode it
// waits for every contributing track and emits one combined segment; out
// of remux mode it forwards each track's segment as it arrives. Caption
// and metadata cues are held until the first data emission, then placed on
// the output timeline.
type Coalescer struct {
	// OnSegment receives every emitted segment.
	OnSegment func(media.Segment)
	// OnCaption receives caption cues with output-timeline times.
	OnCaption func(media.Caption)
	// OnID3 receives timed-metadata cues with output-timeline times.
	OnID3 func(media.ID3Frame)
	// OnSplice receives SCTE-35 cues with output-timeline times.
	OnSplice func(media.SpliceSignal)

	log                    *slog.Logger
	remux                  bool
	keepOriginalTimestamps bool

	videoTrack  *media.Track
	audioTracks map[uint16]*media.Track
	audioOrder  []uint16

	currentAudioPID uint16
	audioPinned     bool

	pendingVideo *TrackSegment
	pendingAudio map[uint16]*TrackSegment
	captions     []media.Caption
	id3s         []media.ID3Frame
	splices      []media.SpliceSignal

	emittedInit bool
	trackInits  map[uint16][]byte
	seqs        map[uint16]uint32
}

// NewCoalescer returns a Coalescer in remux mode.
func NewCoalescer(logger *slog.Logger, keepOriginalTimestamps bool) *Coalescer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coalescer{
		log:                    logger.With("component", "coalescer"),
		remux:                  true,
		keepOriginalTimestamps: keepOriginalTimestamps,
		audioTracks:            make(map[uint16]*media.Track),
		pendingAudio:           make(map[uint16]*TrackSegment),
		trackInits:             make(map[uint16][]byte),
		seqs:                   make(map[uint16]uint32),
	}
}

// SetRemux switches between combined and per-track emission.
func (c *Coalescer) SetRemux(on bool) {
	c.remux = on
}

// AddTrack registers an expected track. The lowest advertised audio PID
// becomes the selected one until SetAudioPID pins a choice.
func (c *Coalescer) AddTrack(t *media.Track) {
	switch t.Type {
	case media.TrackTypeVideo:
		c.videoTrack = t
	case media.TrackTypeAudio:
		if _, ok := c.audioTracks[t.PID]; ok {
			return
		}
		c.audioTracks[t.PID] = t
		c.audioOrder = append(c.audioOrder, t.PID)
		if !c.audioPinned && (len(c.audioOrder) == 1 || t.PID < c.currentAudioPID) {
			c.currentAudioPID = t.PID
		}
	}
}

// SetAudioPID pins the audio track carried in combined segments.
func (c *Coalescer) SetAudioPID(pid uint16) {
	c.currentAudioPID = pid
	c.audioPinned = true
}

// PushSegment accepts one track's sample run. Out of remux mode it is
// emitted immediately; otherwise it waits for the barrier.
func (c *Coalescer) PushSegment(ts TrackSegment) error {
	if c.videoTrack == nil && len(c.audioTracks) == 0 {
		return ErrNoTracks
	}
	if !c.remux {
		return c.emitSingle(ts)
	}
	if ts.Track.Type == media.TrackTypeVideo {
		c.pendingVideo = &ts
	} else {
		c.pendingAudio[ts.Track.PID] = &ts
	}
	return nil
}

// PushCaption holds a caption cue for the next data emission.
func (c *Coalescer) PushCaption(cue media.Caption) {
	c.captions = append(c.captions, cue)
}

// PushID3 holds a timed-metadata cue for the next data emission.
func (c *Coalescer) PushID3(f media.ID3Frame) {
	c.id3s = append(c.id3s, f)
}

// PushSplice holds an SCTE-35 cue for the next data emission. Cues without
// a presentation time are forwarded on the spot; there is nothing to place
// on the timeline.
func (c *Coalescer) PushSplice(s media.SpliceSignal) {
	if !s.HasPTS {
		if c.OnSplice != nil {
			c.OnSplice(s)
		}
		return
	}
	c.splices = append(c.splices, s)
}

// Flush releases the barrier. A track that produced no data this round
// counts as satisfied, so a stalled stream never wedges the pipeline.
func (c *Coalescer) Flush() error {
	if !c.remux {
		return nil
	}
	video := c.pendingVideo
	audio := c.pendingAudio[c.currentAudioPID]
	for pid, pending := range c.pendingAudio {
		if pid != c.currentAudioPID && pending != nil {
			c.log.Debug("dropping segment for unselected audio track", "pid", pid)
		}
	}
	c.pendingVideo = nil
	c.pendingAudio = make(map[uint16]*TrackSegment)

	if video == nil && audio == nil {
		return nil
	}

	var tracks []*media.Track
	var parts []*TrackSegment
	if video != nil {
		tracks = append(tracks, video.Track)
		parts = append(parts, video)
	}
	if audio != nil {
		tracks = append(tracks, audio.Track)
		parts = append(parts, audio)
	}

	var initSegment []byte
	if !c.emittedInit {
		init, err := fmp4.BuildInit(tracks)
		if err != nil {
			return err
		}
		initSegment = init
		c.emittedInit = true
	}

	var data []byte
	for _, part := range parts {
		frag, err := c.fragment(part)
		if err != nil {
			return err
		}
		data = append(data, frag...)
	}

	seg := media.Segment{
		Type:        media.SegmentTypeCombined,
		InitSegment: initSegment,
		Data:        data,
		Info: media.SegmentInfo{
			HasVideo: video != nil,
			HasAudio: audio != nil,
		},
	}
	switch {
	case video != nil && audio != nil:
		seg.Codec = video.Track.Codec
		seg.PID = video.Track.PID
	case video != nil:
		seg.Type = media.SegmentTypeVideo
		seg.Codec = video.Track.Codec
		seg.PID = video.Track.PID
	default:
		seg.Type = media.SegmentTypeAudio
		seg.Codec = audio.Track.Codec
		seg.PID = audio.Track.PID
	}
	c.emit(seg)
	return nil
}

// Reset drops all pending data, cues, emission state, and registered
// tracks; tracks must be added again before the next flush.
func (c *Coalescer) Reset() {
	c.pendingVideo = nil
	c.pendingAudio = make(map[uint16]*TrackSegment)
	c.captions = nil
	c.id3s = nil
	c.splices = nil
	c.emittedInit = false
	c.trackInits = make(map[uint16][]byte)
	c.seqs = make(map[uint16]uint32)
	c.videoTrack = nil
	c.audioTracks = make(map[uint16]*media.Track)
	c.audioOrder = nil
	c.audioPinned = false
	c.currentAudioPID = 0
}

func (c *Coalescer) emitSingle(ts TrackSegment) error {
	var initSegment []byte
	if c.trackInits[ts.Track.PID] == nil {
		init, err := fmp4.BuildInit([]*media.Track{ts.Track})
		if err != nil {
			return err
		}
		c.trackInits[ts.Track.PID] = init
		initSegment = init
	}
	frag, err := c.fragment(&ts)
	if err != nil {
		return err
	}
	segType := media.SegmentTypeAudio
	if ts.Track.Type == media.TrackTypeVideo {
		segType = media.SegmentTypeVideo
	}
	c.emit(media.Segment{
		Type:        segType,
		InitSegment: initSegment,
		Data:        frag,
		Codec:       ts.Track.Codec,
		PID:         ts.Track.PID,
		Info: media.SegmentInfo{
			HasVideo: ts.Track.Type == media.TrackTypeVideo,
			HasAudio: ts.Track.Type == media.TrackTypeAudio,
		},
	})
	return nil
}

func (c *Coalescer) fragment(ts *TrackSegment) ([]byte, error) {
	c.seqs[ts.Track.PID]++
	return fmp4.BuildFragment(c.seqs[ts.Track.PID], ts.Track.ID, ts.Samples)
}

func (c *Coalescer) emit(seg media.Segment) {
	if c.OnSegment != nil {
		c.OnSegment(seg)
	}
	c.releaseCues()
}

// releaseCues converts held cue timestamps onto the output timeline and
// forwards them. The anchor is the video track's timeline start when
// present, otherwise the first anchored audio track's.
func (c *Coalescer) releaseCues() {
	if len(c.captions) == 0 && len(c.id3s) == 0 && len(c.splices) == 0 {
		return
	}
	startPTS, ok := c.timelineStartPTS()
	if !ok {
		return
	}
	for _, cue := range c.captions {
		cue.Start = clock.MetadataTsToSeconds(cue.StartPTS, startPTS, c.keepOriginalTimestamps)
		cue.End = clock.MetadataTsToSeconds(cue.EndPTS, startPTS, c.keepOriginalTimestamps)
		if c.OnCaption != nil {
			c.OnCaption(cue)
		}
	}
	c.captions = nil
	for _, f := range c.id3s {
		f.CueTime = clock.MetadataTsToSeconds(f.PTS, startPTS, c.keepOriginalTimestamps)
		if c.OnID3 != nil {
			c.OnID3(f)
		}
	}
	c.id3s = nil
	for _, s := range c.splices {
		s.CueTime = clock.MetadataTsToSeconds(s.PTS, startPTS, c.keepOriginalTimestamps)
		if c.OnSplice != nil {
			c.OnSplice(s)
		}
	}
	c.splices = nil
}

func (c *Coalescer) timelineStartPTS() (int64, bool) {
	if c.videoTrack != nil && c.videoTrack.HasTimelineStart {
		return c.videoTrack.TimelineStart.PTS, true
	}
	for _, pid := range c.audioOrder {
		if t := c.audioTracks[pid]; t.HasTimelineStart {
			return t.TimelineStart.PTS, true
		}
	}
	return 0, false
}
