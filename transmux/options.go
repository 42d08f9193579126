package transmux

import "log/slog"

type options struct {
	logger                 *slog.Logger
	remux                  bool
	keepOriginalTimestamps bool
	alignGopsAtEnd         bool
	broadStreamTypes       bool
	baseMediaDecodeTime    int64
	stats                  StatsRecorder
}

// Option configures a Transmuxer at construction.
type Option func(*options)

// WithLogger sets the logger used by every stage. Defaults to
// slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRemux controls whether tracks are emitted as one combined segment
// (the default) or separately.
func WithRemux(on bool) Option {
	return func(o *options) { o.remux = on }
}

// WithKeepOriginalTimestamps keeps source timestamps instead of rebasing
// the output timeline to zero.
func WithKeepOriginalTimestamps(on bool) Option {
	return func(o *options) { o.keepOriginalTimestamps = on }
}

// WithAlignGopsAtEnd aligns against the end of the alignment list instead
// of the start.
func WithAlignGopsAtEnd(on bool) Option {
	return func(o *options) { o.alignGopsAtEnd = on }
}

// WithBroadStreamTypes admits video and audio stream types beyond
// H.264/AAC. Selecting a stream with no parser surfaces
// ErrUnsupportedCodec on the event sink.
func WithBroadStreamTypes(on bool) Option {
	return func(o *options) { o.broadStreamTypes = on }
}

// WithBaseMediaDecodeTime imposes an initial decode-time offset, as if
// SetBaseMediaDecodeTime had been called before any input.
func WithBaseMediaDecodeTime(t int64) Option {
	return func(o *options) { o.baseMediaDecodeTime = t }
}

// WithStats installs a stats recorder fed by the pipeline.
func WithStats(s StatsRecorder) Option {
	return func(o *options) { o.stats = s }
}

// StatsRecorder collects pipeline counters. Implementations must be cheap;
// methods are called on the hot path.
type StatsRecorder interface {
	RecordTSPacket()
	RecordVideoNAL(naluType uint8)
	RecordAudioFrame()
	RecordCaption(channel int)
	RecordSegment(segType string, bytes int)
}
