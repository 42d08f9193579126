package fmp4

import (
	"bytes"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/zsiec/remux/media"
)

var sps720p = []byte{
	0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
	0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
	0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
	0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
}

var pps = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}

func TestBuildInitAssignsTrackIDs(t *testing.T) {
	t.Parallel()
	video := &media.Track{
		Type:      media.TrackTypeVideo,
		PID:       0x100,
		Timescale: media.VideoClockRate,
		SPS:       sps720p,
		PPS:       pps,
	}
	audio := &media.Track{
		Type:       media.TrackTypeAudio,
		PID:        0x101,
		Timescale:  48000,
		ObjectType: 2,
		SampleRate: 48000,
		Language:   "eng",
	}

	init, err := BuildInit([]*media.Track{video, audio})
	if err != nil {
		t.Fatal(err)
	}
	if len(init) == 0 {
		t.Fatal("empty init segment")
	}
	if !bytes.Equal(init[4:8], []byte("ftyp")) {
		t.Errorf("leading box = %q, want ftyp", init[4:8])
	}
	if video.ID != 1 || audio.ID != 2 {
		t.Errorf("track ids = %d/%d, want 1/2", video.ID, audio.ID)
	}
}

func TestBuildInitRejectsEmptyAndUnknown(t *testing.T) {
	t.Parallel()
	if _, err := BuildInit(nil); err == nil {
		t.Error("nil track list accepted")
	}
	if _, err := BuildInit([]*media.Track{{Type: "subtitle"}}); err == nil {
		t.Error("unknown track type accepted")
	}
}

func TestBuildFragmentEncodesSamples(t *testing.T) {
	t.Parallel()
	samples := []mp4.FullSample{
		{
			Sample:     mp4.Sample{Flags: VideoSampleFlags(true), Dur: 3000, Size: 4},
			DecodeTime: 0,
			Data:       []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			Sample:     mp4.Sample{Flags: VideoSampleFlags(false), Dur: 3000, Size: 2},
			DecodeTime: 3000,
			Data:       []byte{0x05, 0x06},
		},
	}
	frag, err := BuildFragment(1, 1, samples)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(frag[4:8], []byte("moof")) {
		t.Errorf("leading box = %q, want moof", frag[4:8])
	}
	if !bytes.Contains(frag, []byte("mdat")) {
		t.Error("fragment has no mdat box")
	}
	if !bytes.Contains(frag, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}) {
		t.Error("sample bytes missing from the mdat payload")
	}
}

func TestSampleFlags(t *testing.T) {
	t.Parallel()
	if VideoSampleFlags(true) != mp4.SyncSampleFlags {
		t.Error("keyframe flags are not sync sample flags")
	}
	if VideoSampleFlags(false) != mp4.NonSyncSampleFlags {
		t.Error("non-keyframe flags are not non-sync flags")
	}
	if AudioSampleFlags() != mp4.SyncSampleFlags {
		t.Error("audio flags are not sync sample flags")
	}
}
