package clock

const (
	// maxTimestamp is 2^33, one past the largest raw 33-bit PTS/DTS.
	maxTimestamp int64 = 8589934592
	// halfRange is 2^32, the midpoint used to distinguish a rollover
	// from an out-of-order timestamp.
	halfRange int64 = 4294967296
)

// Rollover extends raw 33-bit timestamps onto an unbounded timeline. One
// instance tracks one logical stream; a backwards jump of more than half
// the 33-bit range is treated as a wrap and accumulates a 2^33 offset.
type Rollover struct {
	last    int64
	hasLast bool
	offset  int64
}

// Adjust extends a raw decode/presentation pair. Detection runs on the
// decode timestamp; the presentation timestamp receives the same offset,
// plus one extra period if it wrapped ahead of the decode timestamp.
func (r *Rollover) Adjust(pts, dts int64) (int64, int64) {
	if r.hasLast && dts+halfRange < r.last {
		r.offset += maxTimestamp
	}
	r.last = dts
	r.hasLast = true

	adjDTS := dts + r.offset
	adjPTS := pts + r.offset
	if adjPTS+halfRange < adjDTS {
		adjPTS += maxTimestamp
	}
	return adjPTS, adjDTS
}

// Discontinuity forgets the last timestamp but keeps the accumulated
// offset, so a signaled break does not rewind the extended timeline.
func (r *Rollover) Discontinuity() {
	r.hasLast = false
}

// Reset clears all state, returning the extended timeline to zero offset.
func (r *Rollover) Reset() {
	r.hasLast = false
	r.last = 0
	r.offset = 0
}
