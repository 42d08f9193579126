package adts

// Silent AAC-LC access units, header stripped, one frame of digital
// silence each.
var (
	silenceMono   = []byte{0x00, 0xc8, 0x00, 0x80, 0x23, 0x80}
	silenceStereo = []byte{0x21, 0x00, 0x49, 0x90, 0x02, 0x19, 0x00, 0x23, 0x80}
)

// SilentFrame returns a silent access unit for the channel count, or nil
// when no canned frame matches and the caller should repeat real data
// instead.
func SilentFrame(channelCount int) []byte {
	switch channelCount {
	case 1:
		return silenceMono
	case 2:
		return silenceStereo
	}
	return nil
}
