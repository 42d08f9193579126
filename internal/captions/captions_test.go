package captions

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/zsiec/remux/internal/avc"
	"github.com/zsiec/remux/media"
)

func newTestExtractor() (*Extractor, *[]media.Caption) {
	cues := &[]media.Caption{}
	e := NewExtractor(nil)
	e.Out = func(c media.Caption) { *cues = append(*cues, c) }
	return e, cues
}

func TestCueEmissionIsDelayedOneStep(t *testing.T) {
	t.Parallel()
	e, cues := newTestExtractor()

	e.cue(1, 90000, "first")
	if len(*cues) != 0 {
		t.Fatal("cue emitted before its end time was known")
	}

	// The next cue on the same channel closes the previous one.
	e.cue(1, 180000, "second")
	if len(*cues) != 1 {
		t.Fatalf("cues = %d, want 1", len(*cues))
	}
	got := (*cues)[0]
	if got.Text != "first" || got.Channel != 1 {
		t.Errorf("cue = %+v", got)
	}
	if got.StartPTS != 90000 || got.EndPTS != 180000 {
		t.Errorf("span = %d..%d, want 90000..180000", got.StartPTS, got.EndPTS)
	}
}

func TestCueChannelsAreIndependent(t *testing.T) {
	t.Parallel()
	e, cues := newTestExtractor()

	e.cue(1, 90000, "field one")
	e.cue(2, 90000, "field two")
	if len(*cues) != 0 {
		t.Fatal("cross-channel cue closed another channel's cue")
	}
	e.cue(2, 270000, "next")
	if len(*cues) != 1 || (*cues)[0].Text != "field two" {
		t.Fatalf("cues = %+v", *cues)
	}
}

func TestCueNonPositiveSpanGetsDefaultDuration(t *testing.T) {
	t.Parallel()
	e, cues := newTestExtractor()

	e.cue(1, 90000, "stuck")
	// A replacement at the same instant must not produce a zero-length cue.
	e.cue(1, 90000, "again")
	if len(*cues) != 1 {
		t.Fatalf("cues = %d, want 1", len(*cues))
	}
	if got := (*cues)[0].EndPTS; got != 90000+defaultCueDuration {
		t.Errorf("end = %d, want %d", got, 90000+defaultCueDuration)
	}
}

func TestFlushClosesPendingCues(t *testing.T) {
	t.Parallel()
	e, cues := newTestExtractor()

	e.cue(1, 90000, "tail")
	e.cue(8, 93000, "service cue")
	e.Flush()
	if len(*cues) != 2 {
		t.Fatalf("cues = %d, want 2", len(*cues))
	}
	for _, c := range *cues {
		if c.EndPTS != c.StartPTS+defaultCueDuration {
			t.Errorf("channel %d end = %d, want start+default", c.Channel, c.EndPTS)
		}
	}

	// Nothing is left pending after a flush.
	e.Flush()
	if len(*cues) != 2 {
		t.Error("second flush re-emitted cues")
	}
}

func TestResetDropsPendingCues(t *testing.T) {
	t.Parallel()
	e, cues := newTestExtractor()

	e.cue(1, 90000, "doomed")
	e.Reset()
	e.Flush()
	if len(*cues) != 0 {
		t.Error("reset did not discard the pending cue")
	}
}

func TestPushIgnoresNonSEIUnits(t *testing.T) {
	t.Parallel()
	e, cues := newTestExtractor()

	e.Push(avc.NALUnit{Type: h264.NALUTypeIDR, PTS: 0, DTS: 0, Data: []byte{0x65}})
	e.Push(avc.NALUnit{Type: h264.NALUTypeAccessUnitDelimiter, PTS: 0, DTS: 0, Data: []byte{0x09, 0xF0}})
	e.Flush()
	if len(*cues) != 0 {
		t.Error("non-SEI units produced cues")
	}
	if e.videoCount != 1 {
		t.Errorf("frame counter = %d, want 1 after one delimiter", e.videoCount)
	}
}
