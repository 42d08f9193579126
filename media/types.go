// Package media defines the record types that flow between the transmuxer's
// pipeline stages, from TS demuxing through segment coalescing.
package media

// TrackType identifies the media kind of a track.
type TrackType string

// Track types.
const (
	TrackTypeVideo TrackType = "video"
	TrackTypeAudio TrackType = "audio"
)

// VideoClockRate is the MPEG-TS system clock rate. All PTS/DTS values in
// this package are expressed in this clock unless stated otherwise.
const VideoClockRate = 90000

// PESPacket is a reassembled Packetized Elementary Stream unit with its
// header fields decoded. PTS and DTS are raw 33-bit values stored in int64
// so that rollover extension can grow past 2^33.
type PESPacket struct {
	PID              uint16
	StreamType       uint8
	PayloadUnitStart bool
	HasPTS           bool
	PTS              int64
	DTS              int64
	DataAlignment    bool
	PacketLength     int
	Data             []byte
}

// ADTSFrame is a single AAC frame extracted from an ADTS stream. Data holds
// the raw access unit with the ADTS header stripped, ready for an mdat.
type ADTSFrame struct {
	PID          uint16
	PTS          int64
	DTS          int64
	Data         []byte
	ObjectType   uint8
	SampleRate   int
	ChannelCount int
	SampleSize   int
}

// TimelineStart anchors a track on the output timeline. DTS and PTS record
// the first timestamps that produced data; BaseMediaDecodeTime is the
// externally-imposed offset of that instant.
type TimelineStart struct {
	DTS                 int64
	PTS                 int64
	BaseMediaDecodeTime int64
}

// Track carries the durable per-output metadata for one elementary stream.
// It is created when the PMT is parsed, mutated by the segmenters, and lives
// until the transmuxer is reset.
type Track struct {
	Type      TrackType
	ID        uint32
	PID       uint16
	Codec     string
	Timescale uint32
	Language  string

	// Video configuration, taken from the most recent SPS/PPS.
	SPS           []byte
	PPS           []byte
	Width         int
	Height        int
	Profile       uint8
	ProfileCompat uint8
	Level         uint8

	// Audio configuration, taken from the first ADTS frame.
	ObjectType   uint8
	SampleRate   int
	ChannelCount int
	SampleSize   int

	TimelineStart       TimelineStart
	HasTimelineStart    bool
	BaseMediaDecodeTime int64
}

// AudioTrackInfo describes one audio elementary stream advertised by the PMT.
type AudioTrackInfo struct {
	PID       uint16
	Codec     string
	Type      TrackType
	Languages []string
}

// VideoTrackInfo describes the selected video elementary stream.
type VideoTrackInfo struct {
	PID   uint16
	Codec string
	Type  TrackType
}

// SubtitleTrackInfo describes a DVB subtitle or teletext stream. These are
// advertised only; no segmenter consumes them.
type SubtitleTrackInfo struct {
	PID      uint16
	Kind     string
	Language string
}

// TrackInfo is emitted once, for the first PMT, and lists every track the stream carries.
type TrackInfo struct {
	Audio     []AudioTrackInfo
	Video     *VideoTrackInfo
	Subtitles []SubtitleTrackInfo
}

// SegmentType identifies what a Segment contains.
type SegmentType string

// Segment types.
const (
	SegmentTypeAudio    SegmentType = "audio"
	SegmentTypeVideo    SegmentType = "video"
	SegmentTypeCombined SegmentType = "combined"
)

// Segment is one emitted media segment: a moof+mdat pair per contained
// track, preceded on the first emission by an ftyp+moov init segment.
// Byte slices are transferred to the consumer and must not be mutated
// after emission.
type Segment struct {
	Type        SegmentType
	InitSegment []byte
	Data        []byte
	Codec       string
	PID         uint16
	Info        SegmentInfo
}

// SegmentInfo summarizes the tracks contained in a segment.
type SegmentInfo struct {
	HasVideo bool
	HasAudio bool
}

// TimingInfo reports the presentation span of an emitted segment in the
// 90 kHz clock.
type TimingInfo struct {
	Start int64
	End   int64
}

// SegmentTimingInfo reports decode/presentation timing for one track's
// segment. Times and durations are in the 90 kHz clock, except
// BaseMediaDecodeTime, which is in the track's timescale (the sample rate
// for audio).
type SegmentTimingInfo struct {
	Start                      TimestampPair
	End                        TimestampPair
	PrependedContentDuration   int64
	BaseMediaDecodeTime        int64
	BaseMediaDecodeTimeClamped bool
}

// TimestampPair is a decode/presentation timestamp pair.
type TimestampPair struct {
	DTS int64
	PTS int64
}

// GopInfo summarizes one group of pictures in an emitted video segment.
type GopInfo struct {
	PTS        int64
	DTS        int64
	Duration   int64
	ByteLength int
	FrameCount int
}

// Caption is a CEA-608/708 cue extracted from H.264 SEI messages. StartPTS
// and EndPTS are 90 kHz presentation times; Start and End are filled in by
// the coalescer as seconds on the output timeline.
type Caption struct {
	Start    float64
	End      float64
	StartPTS int64
	EndPTS   int64
	Text     string
	Channel  int
}

// ID3Frame is a timed-metadata cue carried in a private PES stream.
// CueTime is seconds on the output timeline; Frames holds the individual
// ID3v2 frames of the tag.
type ID3Frame struct {
	PTS     int64
	DTS     int64
	CueTime float64
	Data    []byte
	Frames  []ID3SubFrame
}

// ID3SubFrame is a single frame inside an ID3v2 tag.
type ID3SubFrame struct {
	ID   string
	Data []byte
}

// SpliceCommand names the SCTE-35 command that produced a SpliceSignal.
type SpliceCommand string

// Splice commands surfaced to consumers.
const (
	SpliceCommandInsert     SpliceCommand = "splice_insert"
	SpliceCommandTimeSignal SpliceCommand = "time_signal"
)

// SegmentationSignal is one segmentation descriptor attached to a splice.
type SegmentationSignal struct {
	EventID  uint32
	TypeID   uint8
	TypeName string
	// Duration is in 90 kHz ticks; zero when the descriptor carries none.
	Duration uint64
	UPID     []byte
	Num      uint8
	Expected uint8
}

// SpliceSignal is a decoded SCTE-35 cue. PTS already includes the section's
// pts_adjustment and is extended past 33 bits like every other timestamp in
// the pipeline. CueTime is filled in by the coalescer as seconds on the
// output timeline.
type SpliceSignal struct {
	Command       SpliceCommand
	EventID       uint32
	OutOfNetwork  bool
	Immediate     bool
	HasPTS        bool
	PTS           int64
	CueTime       float64
	Duration      uint64
	AutoReturn    bool
	Segmentations []SegmentationSignal
}
