package mpegts

import "errors"

var (
	errPESTooShort     = errors.New("mpegts: PES packet too short")
	errPESStartCode    = errors.New("mpegts: missing PES start code prefix")
	errPESHeaderLength = errors.New("mpegts: PES header length beyond packet")
)
