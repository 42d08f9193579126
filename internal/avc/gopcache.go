package avc

import "bytes"

const (
	gopCacheSize = 6

	// fusionMaxGap is how far in the past a cached group may end and
	// still be considered contiguous with new data.
	fusionMaxGap int64 = 45000
	// fusionMaxOverlap is how far a cached group may extend past the
	// start of new data.
	fusionMaxOverlap int64 = 10000
)

type cachedGOP struct {
	gop GOP
	sps []byte
	pps []byte
}

// GOPCache keeps recently emitted groups of pictures so a segment that
// would otherwise open without a keyframe can be fused with one.
type GOPCache struct {
	entries []cachedGOP
}

// Add stores a group with the parameter sets active when it was encoded.
// The cache keeps the most recent entries up to its fixed capacity.
func (c *GOPCache) Add(gop GOP, sps, pps []byte) {
	c.entries = append([]cachedGOP{{gop: gop, sps: sps, pps: pps}}, c.entries...)
	if len(c.entries) > gopCacheSize {
		c.entries = c.entries[:gopCacheSize]
	}
}

// ForFusion returns the cached group nearest in decode time to firstDTS
// that was encoded with the same parameter sets, ends within the allowed
// gap before it, overlaps it no more than allowed, and does not predate
// minDTS. It returns false when no cached group qualifies.
func (c *GOPCache) ForFusion(firstDTS int64, sps, pps []byte, minDTS int64) (GOP, bool) {
	var nearest *cachedGOP
	nearestDistance := int64(0)
	for i := len(c.entries) - 1; i >= 0; i-- {
		entry := &c.entries[i]
		if !bytes.Equal(entry.sps, sps) || !bytes.Equal(entry.pps, pps) {
			continue
		}
		if entry.gop.DTS < minDTS {
			continue
		}
		distance := (firstDTS - entry.gop.DTS) - entry.gop.Duration
		if distance < -fusionMaxOverlap || distance > fusionMaxGap {
			continue
		}
		if nearest == nil || distance < nearestDistance {
			nearest = entry
			nearestDistance = distance
		}
	}
	if nearest == nil {
		return GOP{}, false
	}
	return nearest.gop, true
}

// Reset empties the cache.
func (c *GOPCache) Reset() {
	c.entries = nil
}
