// Package fmp4 serializes init segments and media fragments through mp4ff.
package fmp4

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/zsiec/remux/media"
)

// BuildInit builds an ftyp+moov init segment covering tracks, in order.
// Track IDs are assigned by position and written back to each track.
func BuildInit(tracks []*media.Track) ([]byte, error) {
	if len(tracks) == 0 {
		return nil, fmt.Errorf("fmp4: init segment needs at least one track")
	}
	init := mp4.CreateEmptyInit()
	for _, t := range tracks {
		lang := t.Language
		if lang == "" {
			lang = "und"
		}
		switch t.Type {
		case media.TrackTypeVideo:
			init.AddEmptyTrack(t.Timescale, "video", lang)
			trak := init.Moov.Traks[len(init.Moov.Traks)-1]
			t.ID = trak.Tkhd.TrackID
			if err := trak.SetAVCDescriptor("avc1", [][]byte{t.SPS}, [][]byte{t.PPS}, true); err != nil {
				return nil, fmt.Errorf("fmp4: AVC descriptor for PID %d: %w", t.PID, err)
			}
		case media.TrackTypeAudio:
			init.AddEmptyTrack(t.Timescale, "audio", lang)
			trak := init.Moov.Traks[len(init.Moov.Traks)-1]
			t.ID = trak.Tkhd.TrackID
			if err := trak.SetAACDescriptor(byte(t.ObjectType), t.SampleRate); err != nil {
				return nil, fmt.Errorf("fmp4: AAC descriptor for PID %d: %w", t.PID, err)
			}
		default:
			return nil, fmt.Errorf("fmp4: unsupported track type %q", t.Type)
		}
	}
	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		return nil, fmt.Errorf("fmp4: encoding init segment: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildFragment builds one moof+mdat pair for a single track.
func BuildFragment(seq, trackID uint32, samples []mp4.FullSample) ([]byte, error) {
	frag, err := mp4.CreateFragment(seq, trackID)
	if err != nil {
		return nil, fmt.Errorf("fmp4: creating fragment %d: %w", seq, err)
	}
	for _, s := range samples {
		frag.AddFullSample(s)
	}
	var buf bytes.Buffer
	if err := frag.Encode(&buf); err != nil {
		return nil, fmt.Errorf("fmp4: encoding fragment %d: %w", seq, err)
	}
	return buf.Bytes(), nil
}

// VideoSampleFlags returns the trun sample flags for a video frame.
func VideoSampleFlags(keyFrame bool) uint32 {
	if keyFrame {
		return mp4.SyncSampleFlags
	}
	return mp4.NonSyncSampleFlags
}

// AudioSampleFlags returns the trun sample flags for an audio frame; every
// AAC frame is a sync sample.
func AudioSampleFlags() uint32 {
	return mp4.SyncSampleFlags
}
