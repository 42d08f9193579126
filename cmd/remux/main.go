// Command remux converts MPEG-TS files into fragmented MP4 segments.
// Each input produces an init segment, numbered media segments, and a
// sidecar of caption, ID3, and SCTE-35 cues.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/remux/media"
	"github.com/zsiec/remux/transmux"
)

var version = "dev"

func main() {
	outDir := flag.String("out", ".", "directory segments are written to")
	remux := flag.Bool("remux", true, "emit one combined segment instead of per-track segments")
	keepTS := flag.Bool("keep-original-timestamps", false, "keep source timestamps instead of rebasing to zero")
	flushEvery := flag.Int("flush-every", 1<<20, "bytes pushed between flushes")
	broad := flag.Bool("broad-stream-types", false, "admit stream types beyond H.264/AAC")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: remux [flags] file.ts...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	slog.Info("remux starting", "version", version, "inputs", flag.NArg())

	var g errgroup.Group
	for _, path := range flag.Args() {
		g.Go(func() error {
			return convert(path, *outDir, *remux, *keepTS, *flushEvery, *broad)
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("conversion failed", "error", err)
		os.Exit(1)
	}
}

func convert(path, outDir string, remux, keepTS bool, flushEvery int, broad bool) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	log := slog.Default().With("input", name)

	cues, err := os.Create(filepath.Join(outDir, name+".cues"))
	if err != nil {
		return err
	}
	defer cues.Close()
	enc := json.NewEncoder(cues)

	stats := &counterStats{}
	w := &segmentWriter{dir: outDir, name: name, log: log}

	tx := transmux.New(
		transmux.WithLogger(log),
		transmux.WithRemux(remux),
		transmux.WithKeepOriginalTimestamps(keepTS),
		transmux.WithBroadStreamTypes(broad),
		transmux.WithStats(stats),
	)
	tx.Events.OnTrackInfo = func(info media.TrackInfo) {
		if info.Video != nil {
			log.Info("video track", "pid", info.Video.PID, "codec", info.Video.Codec)
		}
		for _, a := range info.Audio {
			log.Info("audio track", "pid", a.PID, "codec", a.Codec, "languages", a.Languages)
		}
	}
	tx.Events.OnSegment = w.write
	tx.Events.OnCaption = func(c media.Caption) {
		enc.Encode(cueRecord{Kind: "caption", Start: c.Start, End: c.End, Channel: c.Channel, Text: c.Text})
	}
	tx.Events.OnID3 = func(f media.ID3Frame) {
		ids := make([]string, len(f.Frames))
		for i, sub := range f.Frames {
			ids[i] = sub.ID
		}
		enc.Encode(cueRecord{Kind: "id3", Start: f.CueTime, Frames: ids})
	}
	tx.Events.OnSCTE35 = func(s media.SpliceSignal) {
		enc.Encode(cueRecord{Kind: "scte35", Start: s.CueTime, Text: string(s.Command)})
	}
	tx.Events.OnError = func(err error) {
		log.Warn("pipeline event", "error", err)
	}

	buf := make([]byte, flushEvery)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if err := tx.Push(buf[:n]); err != nil {
				return err
			}
			if err := tx.Flush(); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	if err := tx.EndTimeline(); err != nil {
		return err
	}
	if w.err != nil {
		return w.err
	}

	log.Info("conversion finished",
		"ts_packets", stats.tsPackets.Load(),
		"video_nals", stats.videoNALs.Load(),
		"audio_frames", stats.audioFrames.Load(),
		"captions", stats.captionCues.Load(),
		"segments", stats.segments.Load(),
		"segment_bytes", stats.segmentBytes.Load(),
	)
	return nil
}

type cueRecord struct {
	Kind    string   `json:"kind"`
	Start   float64  `json:"start"`
	End     float64  `json:"end,omitempty"`
	Channel int      `json:"channel,omitempty"`
	Text    string   `json:"text,omitempty"`
	Frames  []string `json:"frames,omitempty"`
}

// segmentWriter numbers segments per input and writes init data to its
// own file. Write errors are remembered and reported once at the end.
type segmentWriter struct {
	dir  string
	name string
	log  *slog.Logger
	seq  int
	err  error
}

func (w *segmentWriter) write(seg media.Segment) {
	if len(seg.InitSegment) > 0 {
		w.put(fmt.Sprintf("%s-%s-init.mp4", w.name, seg.Type), seg.InitSegment)
	}
	w.seq++
	w.put(fmt.Sprintf("%s-%s-%d.m4s", w.name, seg.Type, w.seq), seg.Data)
}

func (w *segmentWriter) put(name string, data []byte) {
	if w.err != nil {
		return
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		w.err = err
		return
	}
	w.log.Debug("wrote segment", "file", name, "bytes", len(data))
}

// counterStats is a StatsRecorder over atomic counters, safe for the
// concurrent conversions sharing a process.
type counterStats struct {
	tsPackets    atomic.Uint64
	videoNALs    atomic.Uint64
	audioFrames  atomic.Uint64
	captionCues  atomic.Uint64
	segments     atomic.Uint64
	segmentBytes atomic.Uint64
}

func (s *counterStats) RecordTSPacket()        { s.tsPackets.Add(1) }
func (s *counterStats) RecordVideoNAL(uint8)   { s.videoNALs.Add(1) }
func (s *counterStats) RecordAudioFrame()      { s.audioFrames.Add(1) }
func (s *counterStats) RecordCaption(int)      { s.captionCues.Add(1) }
func (s *counterStats) RecordSegment(_ string, n int) {
	s.segments.Add(1)
	s.segmentBytes.Add(uint64(n))
}
