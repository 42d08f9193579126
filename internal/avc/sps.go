package avc

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// Config is the decoded sequence parameter set of a video track.
type Config struct {
	SPS           []byte
	Width         int
	Height        int
	Profile       uint8
	ProfileCompat uint8
	Level         uint8
	Codec         string
}

// ParseSPS decodes a sequence parameter set NAL unit, emulation prevention
// included, into the track configuration.
func ParseSPS(nalu []byte) (Config, error) {
	var sps h264.SPS
	if err := sps.Unmarshal(nalu); err != nil {
		return Config{}, fmt.Errorf("avc: decoding SPS: %w", err)
	}
	if len(nalu) < 4 {
		return Config{}, fmt.Errorf("avc: SPS too short for codec string")
	}
	return Config{
		SPS:           append([]byte(nil), nalu...),
		Width:         sps.Width(),
		Height:        sps.Height(),
		Profile:       nalu[1],
		ProfileCompat: nalu[2],
		Level:         nalu[3],
		Codec:         CodecString(nalu[1], nalu[2], nalu[3]),
	}, nil
}

// CodecString builds the RFC 6381 avc1 codec string from the profile,
// constraint, and level bytes of the SPS.
func CodecString(profile, compat, level uint8) string {
	return fmt.Sprintf("avc1.%02X%02X%02X", profile, compat, level)
}
