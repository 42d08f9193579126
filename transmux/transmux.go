// Package transmux converts MPEG-TS byte streams into fragmented MP4
// segments. A Transmuxer owns the whole pipeline, from packet
// resynchronization through PES reassembly, elementary-stream parsing,
// segmentation, and coalescing, and surfaces results through typed event
// sinks.
package transmux

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/remux/internal/adts"
	"github.com/zsiec/remux/internal/avc"
	"github.com/zsiec/remux/internal/captions"
	"github.com/zsiec/remux/internal/clock"
	"github.com/zsiec/remux/internal/metadata"
	"github.com/zsiec/remux/internal/mpegts"
	"github.com/zsiec/remux/internal/scte35"
	"github.com/zsiec/remux/internal/segment"
	"github.com/zsiec/remux/media"
)

// ErrUnsupportedCodec reports a selected stream whose codec has no parser.
// The stream is dropped; the rest of the program continues.
var ErrUnsupportedCodec = errors.New("transmux: unsupported codec")

// Events holds the sinks a consumer wires before pushing data. Nil sinks
// are skipped. Sinks are invoked synchronously from Push and Flush.
type Events struct {
	// OnTrackInfo fires once, when the program map is parsed.
	OnTrackInfo func(media.TrackInfo)
	// OnSegment receives every emitted media segment.
	OnSegment func(media.Segment)
	// OnCaption receives CEA-608/708 cues with output-timeline times.
	OnCaption func(media.Caption)
	// OnID3 receives timed-metadata cues with output-timeline times.
	OnID3 func(media.ID3Frame)
	// OnSCTE35 receives splice cues with output-timeline times.
	OnSCTE35 func(media.SpliceSignal)
	// OnVideoTiming and OnAudioTiming report the presentation span of each
	// track segment as it leaves its segmenter.
	OnVideoTiming func(media.TimingInfo)
	OnAudioTiming func(media.TimingInfo)
	// OnVideoSegmentTiming and OnAudioSegmentTiming report decode timing,
	// including the base media decode time each segment was written with.
	OnVideoSegmentTiming func(media.SegmentTimingInfo)
	OnAudioSegmentTiming func(media.SegmentTimingInfo)
	// OnGopInfo lists the groups of pictures in each video segment.
	OnGopInfo func([]media.GopInfo)
	// OnDone fires at the end of every Flush.
	OnDone func()
	// OnEndedTimeline fires after the flush triggered by EndTimeline.
	OnEndedTimeline func()
	// OnReset fires after Reset returns the pipeline to its initial state.
	OnReset func()
	// OnError receives recoverable pipeline errors, such as unsupported
	// codecs on selected streams.
	OnError func(error)
}

// Transmuxer converts an MPEG-TS stream into fragmented MP4 segments.
// Methods must be called from one goroutine; event sinks fire on that
// goroutine during Push and Flush.
type Transmuxer struct {
	// Events is consulted at emission time, so sinks may be assigned any
	// time before the data that triggers them is pushed.
	Events Events

	opts  options
	log   *slog.Logger
	stats StatsRecorder

	splitter    *mpegts.Splitter
	parser      *mpegts.Parser
	reassembler *mpegts.Reassembler

	videoRollover  clock.Rollover
	audioRollover  clock.Rollover
	metaRollover   clock.Rollover
	spliceRollover clock.Rollover

	avcStream  *avc.Stream
	adtsStream *adts.Stream
	captions   *captions.Extractor
	id3        *metadata.Extractor

	videoSeg  *segment.Video
	audioSeg  *segment.Audio
	coalescer *segment.Coalescer

	videoTrack  *media.Track
	audioTracks []*media.Track

	pendingAlign []media.GopInfo
	pendingBMDT  int64

	unsupported map[uint16]bool
	err         error
}

// New returns a Transmuxer with the given options applied. The zero
// configuration emits combined segments on a zero-based timeline.
func New(opts ...Option) *Transmuxer {
	o := options{logger: slog.Default(), remux: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.stats == nil {
		o.stats = nopStats{}
	}

	t := &Transmuxer{
		opts:        o,
		log:         o.logger.With("component", "transmuxer"),
		stats:       o.stats,
		pendingBMDT: o.baseMediaDecodeTime,
		unsupported: make(map[uint16]bool),
	}

	t.splitter = &mpegts.Splitter{Out: t.onPacket}
	t.parser = mpegts.NewParser(o.logger)
	t.parser.BroadStreamTypes = o.broadStreamTypes
	t.parser.OnProgramMap = t.onProgramMap
	t.parser.OnPayload = func(p mpegts.Payload) {
		if p.Role == mpegts.RoleSCTE35 {
			t.onSpliceSection(p)
			return
		}
		t.reassembler.Push(p)
	}
	t.reassembler = mpegts.NewReassembler(o.logger)
	t.reassembler.Out = t.onPES

	t.avcStream = &avc.Stream{Out: t.onNAL}
	t.adtsStream = adts.NewStream(o.logger)
	t.adtsStream.Out = t.onADTSFrame
	t.captions = captions.NewExtractor(o.logger)
	t.captions.Out = t.onCaption
	t.id3 = metadata.NewExtractor(o.logger)
	t.id3.Out = func(f media.ID3Frame) { t.coalescer.PushID3(f) }

	t.audioSeg = segment.NewAudio(o.logger, o.keepOriginalTimestamps)
	t.audioSeg.Out = t.onAudioSegment
	t.coalescer = segment.NewCoalescer(o.logger, o.keepOriginalTimestamps)
	t.coalescer.SetRemux(o.remux)
	t.coalescer.OnSegment = t.onSegment
	t.coalescer.OnCaption = func(c media.Caption) { t.emitCaption(c) }
	t.coalescer.OnID3 = func(f media.ID3Frame) {
		if t.Events.OnID3 != nil {
			t.Events.OnID3(f)
		}
	}
	t.coalescer.OnSplice = func(s media.SpliceSignal) {
		if t.Events.OnSCTE35 != nil {
			t.Events.OnSCTE35(s)
		}
	}
	return t
}

// Push feeds a chunk of transport-stream bytes through the pipeline. The
// chunk may end anywhere, including inside a packet. Push returns the
// first unrecoverable pipeline error; once it returns non-nil the
// transmuxer must be Reset.
func (t *Transmuxer) Push(buf []byte) error {
	if t.err != nil {
		return t.err
	}
	t.splitter.Push(buf)
	return t.err
}

// Flush drains every stage in pipeline order and emits at most one
// segment per track from whatever is buffered. OnDone fires even when no
// data was pending.
func (t *Transmuxer) Flush() error {
	if t.err != nil {
		return t.err
	}
	t.splitter.Flush()
	t.parser.Flush()
	t.reassembler.Flush()
	t.avcStream.Flush()
	t.adtsStream.Flush()
	t.captions.Flush()
	if t.videoSeg != nil {
		t.videoSeg.Flush()
	}
	t.audioSeg.Flush()
	if err := t.coalescer.Flush(); err != nil {
		t.fail(err)
	}
	if t.Events.OnDone != nil {
		t.Events.OnDone()
	}
	return t.err
}

// EndTimeline flushes and then signals that no more data will arrive on
// the current timeline.
func (t *Transmuxer) EndTimeline() error {
	err := t.Flush()
	if t.Events.OnEndedTimeline != nil {
		t.Events.OnEndedTimeline()
	}
	return err
}

// Reset returns the pipeline to its initial state. The program map,
// tracks, timeline anchors, rollover offsets, and any pending error are
// all forgotten; the next PAT/PMT starts over.
func (t *Transmuxer) Reset() {
	t.splitter.Reset()
	t.parser.Reset()
	t.reassembler.Reset()
	t.videoRollover.Reset()
	t.audioRollover.Reset()
	t.metaRollover.Reset()
	t.spliceRollover.Reset()
	t.avcStream.Reset()
	t.adtsStream.Reset()
	t.captions.Reset()
	t.coalescer.Reset()

	t.videoSeg = nil
	t.videoTrack = nil
	t.audioTracks = nil
	t.audioSeg = segment.NewAudio(t.opts.logger, t.opts.keepOriginalTimestamps)
	t.audioSeg.Out = t.onAudioSegment
	t.pendingBMDT = t.opts.baseMediaDecodeTime
	t.unsupported = make(map[uint16]bool)
	t.err = nil

	if t.Events.OnReset != nil {
		t.Events.OnReset()
	}
}

// ResetCaptions discards caption decoder state without touching the rest
// of the pipeline.
func (t *Transmuxer) ResetCaptions() {
	t.captions.Reset()
}

// SetBaseMediaDecodeTime imposes a decode-time offset on all tracks. The
// timeline anchors are forgotten so the next segment re-anchors with the
// new offset; buffered media is kept.
func (t *Transmuxer) SetBaseMediaDecodeTime(bmdt int64) {
	t.pendingBMDT = bmdt
	if t.videoTrack != nil {
		t.videoTrack.TimelineStart.BaseMediaDecodeTime = bmdt
	}
	for _, tr := range t.audioTracks {
		tr.TimelineStart.BaseMediaDecodeTime = bmdt
	}
	if t.videoSeg != nil {
		t.videoSeg.TimelineReset()
	}
	t.audioSeg.TimelineReset()
	t.videoRollover.Discontinuity()
	t.audioRollover.Discontinuity()
	t.metaRollover.Discontinuity()
	t.spliceRollover.Discontinuity()
	t.captions.Reset()
}

// SetAudioAppendStart installs the expected audio continuation point used
// for silence gap filling, in the 90 kHz clock.
func (t *Transmuxer) SetAudioAppendStart(ts int64) {
	t.audioSeg.SetAudioAppendStart(ts)
}

// SetRemux switches between combined and per-track segment emission.
func (t *Transmuxer) SetRemux(on bool) {
	t.coalescer.SetRemux(on)
}

// AlignGopsWith installs the group-of-pictures alignment list applied to
// future video segments. Safe to call before the program map arrives.
func (t *Transmuxer) AlignGopsWith(gops []media.GopInfo) {
	if t.videoSeg != nil {
		t.videoSeg.AlignGopsWith(gops)
		return
	}
	t.pendingAlign = gops
}

// SetAudioTrackFromPID pins which advertised audio stream is carried in
// combined segments. Without a pin, the lowest advertised PID is used.
func (t *Transmuxer) SetAudioTrackFromPID(pid uint16) {
	t.coalescer.SetAudioPID(pid)
}

func (t *Transmuxer) onPacket(pkt []byte) {
	t.stats.RecordTSPacket()
	t.parser.Push(pkt)
}

func (t *Transmuxer) onProgramMap(info media.TrackInfo) {
	if info.Video != nil {
		if info.Video.Codec == "avc" {
			t.videoTrack = &media.Track{
				Type:      media.TrackTypeVideo,
				PID:       info.Video.PID,
				Timescale: clock.VideoClockRate,
				TimelineStart: media.TimelineStart{
					BaseMediaDecodeTime: t.pendingBMDT,
				},
			}
			t.videoSeg = segment.NewVideo(t.videoTrack, t.opts.logger,
				t.opts.keepOriginalTimestamps, t.opts.alignGopsAtEnd)
			t.videoSeg.Out = t.onVideoSegment
			t.videoSeg.OnTimelineStart = func(ts media.TimelineStart) {
				t.audioSeg.SetEarliestDTS(ts.DTS)
			}
			if t.pendingAlign != nil {
				t.videoSeg.AlignGopsWith(t.pendingAlign)
				t.pendingAlign = nil
			}
			t.coalescer.AddTrack(t.videoTrack)
		} else {
			t.reportUnsupported(info.Video.PID, info.Video.Codec)
		}
	}
	for _, a := range info.Audio {
		if a.Codec != "aac" {
			t.reportUnsupported(a.PID, a.Codec)
			continue
		}
		lang := ""
		if len(a.Languages) > 0 {
			lang = a.Languages[0]
		}
		track := &media.Track{
			Type:     media.TrackTypeAudio,
			PID:      a.PID,
			Language: lang,
			TimelineStart: media.TimelineStart{
				BaseMediaDecodeTime: t.pendingBMDT,
			},
		}
		t.audioTracks = append(t.audioTracks, track)
		t.audioSeg.AddTrack(track)
		t.coalescer.AddTrack(track)
	}
	if t.Events.OnTrackInfo != nil {
		t.Events.OnTrackInfo(info)
	}
}

func (t *Transmuxer) reportUnsupported(pid uint16, codec string) {
	if t.unsupported[pid] {
		return
	}
	t.unsupported[pid] = true
	t.log.Warn("dropping stream with unsupported codec", "pid", pid, "codec", codec)
	if t.Events.OnError != nil {
		t.Events.OnError(fmt.Errorf("%w: %s on pid %d", ErrUnsupportedCodec, codec, pid))
	}
}

func (t *Transmuxer) onPES(pes media.PESPacket) {
	switch pes.StreamType {
	case mpegts.StreamTypeH264:
		if pes.HasPTS {
			pes.PTS, pes.DTS = t.videoRollover.Adjust(pes.PTS, pes.DTS)
		}
		t.avcStream.Push(pes)
	case mpegts.StreamTypeAAC:
		if pes.HasPTS {
			pes.PTS, pes.DTS = t.audioRollover.Adjust(pes.PTS, pes.DTS)
		}
		t.adtsStream.Push(pes)
	case mpegts.StreamTypeMetadata:
		if pes.HasPTS {
			pes.PTS, pes.DTS = t.metaRollover.Adjust(pes.PTS, pes.DTS)
		}
		t.id3.Push(pes)
	default:
		// Broad-mode streams without a parser end here.
		if t.unsupported[pes.PID] {
			return
		}
		t.log.Debug("dropping PES for unparsed stream type",
			"pid", pes.PID, "stream_type", pes.StreamType)
		t.unsupported[pes.PID] = true
	}
}

// onSpliceSection decodes SCTE-35 sections from cue PIDs. Splice sections
// fit in one TS packet, so only payloads with the unit-start indicator
// carry anything to decode.
func (t *Transmuxer) onSpliceSection(p mpegts.Payload) {
	if !p.PayloadUnitStart {
		return
	}
	sec, err := mpegts.ExtractSection(p.Data)
	if err != nil {
		t.log.Warn("malformed splice section", "pid", p.PID, "err", err)
		return
	}
	decoded, err := scte35.Decode(sec)
	if err != nil {
		t.log.Warn("dropping undecodable splice section", "pid", p.PID, "err", err)
		return
	}
	signal, ok := t.spliceSignal(decoded)
	if !ok {
		return
	}
	t.coalescer.PushSplice(signal)
}

// spliceSignal converts a decoded section into the public cue form.
// splice_null sections are heartbeats and produce nothing.
func (t *Transmuxer) spliceSignal(sec *scte35.Section) (media.SpliceSignal, bool) {
	s := media.SpliceSignal{}
	var pts *uint64
	switch {
	case sec.Insert != nil:
		in := sec.Insert
		s.Command = media.SpliceCommandInsert
		s.EventID = in.EventID
		s.OutOfNetwork = in.OutOfNetwork
		s.Immediate = in.Immediate
		pts = in.PTSTime
		if in.Break != nil {
			s.Duration = in.Break.Duration
			s.AutoReturn = in.Break.AutoReturn
		}
	case sec.TimeSignal != nil:
		s.Command = media.SpliceCommandTimeSignal
		pts = sec.TimeSignal.PTSTime
	default:
		return media.SpliceSignal{}, false
	}

	if pts != nil {
		s.HasPTS = true
		raw := int64((*pts + sec.PTSAdjustment) & (1<<33 - 1))
		s.PTS, _ = t.spliceRollover.Adjust(raw, raw)
	}
	for _, seg := range sec.Segmentations {
		s.Segmentations = append(s.Segmentations, media.SegmentationSignal{
			EventID:  seg.EventID,
			TypeID:   seg.TypeID,
			TypeName: seg.TypeName(),
			Duration: derefUint64(seg.Duration),
			UPID:     seg.UPID,
			Num:      seg.Num,
			Expected: seg.Expected,
		})
	}
	return s, true
}

func derefUint64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

func (t *Transmuxer) onNAL(u avc.NALUnit) {
	t.stats.RecordVideoNAL(uint8(u.Type))
	if t.videoSeg != nil {
		t.videoSeg.Push(u)
	}
	t.captions.Push(u)
}

func (t *Transmuxer) onADTSFrame(f media.ADTSFrame) {
	t.stats.RecordAudioFrame()
	t.audioSeg.Push(f)
}

func (t *Transmuxer) onVideoSegment(seg segment.TrackSegment) {
	t.audioSeg.SetVideoBaseMediaDecodeTime(seg.Timing.BaseMediaDecodeTime)
	if t.Events.OnVideoTiming != nil {
		t.Events.OnVideoTiming(seg.Span)
	}
	if t.Events.OnVideoSegmentTiming != nil {
		t.Events.OnVideoSegmentTiming(seg.Timing)
	}
	if t.Events.OnGopInfo != nil && len(seg.Gops) > 0 {
		t.Events.OnGopInfo(seg.Gops)
	}
	if err := t.coalescer.PushSegment(seg); err != nil {
		t.fail(err)
	}
}

func (t *Transmuxer) onAudioSegment(seg segment.TrackSegment) {
	if t.Events.OnAudioTiming != nil {
		t.Events.OnAudioTiming(seg.Span)
	}
	if t.Events.OnAudioSegmentTiming != nil {
		t.Events.OnAudioSegmentTiming(seg.Timing)
	}
	if err := t.coalescer.PushSegment(seg); err != nil {
		t.fail(err)
	}
}

func (t *Transmuxer) onCaption(cue media.Caption) {
	t.stats.RecordCaption(cue.Channel)
	t.coalescer.PushCaption(cue)
}

func (t *Transmuxer) onSegment(seg media.Segment) {
	t.stats.RecordSegment(string(seg.Type), len(seg.InitSegment)+len(seg.Data))
	if t.Events.OnSegment != nil {
		t.Events.OnSegment(seg)
	}
}

func (t *Transmuxer) emitCaption(cue media.Caption) {
	if t.Events.OnCaption != nil {
		t.Events.OnCaption(cue)
	}
}

// fail records the first unrecoverable error and surfaces it.
func (t *Transmuxer) fail(err error) {
	if t.err == nil {
		t.err = err
	}
	t.log.Error("pipeline error", "err", err)
	if t.Events.OnError != nil {
		t.Events.OnError(err)
	}
}

type nopStats struct{}

func (nopStats) RecordTSPacket()           {}
func (nopStats) RecordVideoNAL(uint8)      {}
func (nopStats) RecordAudioFrame()         {}
func (nopStats) RecordCaption(int)         {}
func (nopStats) RecordSegment(string, int) {}
