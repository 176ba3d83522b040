package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/types"
)

// DefaultMaxDuration is the longest recording sent to the speech API as one upload.
const DefaultMaxDuration = time.Hour

// Prober reports the duration of an audio file.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Cutter writes the [start, end) window of src to dst.
type Cutter interface {
	Cut(ctx context.Context, src, dst string, start, end time.Duration) error
}

type Splitter struct {
	MaxDuration time.Duration
	Prober      Prober
	Cutter      Cutter
	log         *logger.Logger
}

func NewSplitter(maxDuration time.Duration, p Prober, c Cutter) *Splitter {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &Splitter{
		MaxDuration: maxDuration,
		Prober:      p,
		Cutter:      c,
		log:         logger.New().WithComponent("audio-splitter"),
	}
}

// Window is a half-open [Start, End) range of a recording.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Plan partitions [0, total) into consecutive windows of at most max.
// A recording at or below max yields one window.
func Plan(total, max time.Duration) []Window {
	if total <= 0 {
		return nil
	}
	if max <= 0 || total <= max {
		return []Window{{Start: 0, End: total}}
	}
	n := int((total + max - 1) / max)
	out := make([]Window, 0, n)
	for i := 0; i < n; i++ {
		start := time.Duration(i) * max
		end := start + max
		if end > total {
			end = total
		}
		out = append(out, Window{Start: start, End: end})
	}
	return out
}

// Split returns the ordered segments for path. Recordings at or below
// MaxDuration come back as a single segment pointing at path itself;
// longer ones are cut into outputDir as <base>_chunk000<ext>, ...
func (s *Splitter) Split(ctx context.Context, path, outputDir string) ([]types.AudioSegment, error) {
	log := s.logger().WithField("audio", filepath.Base(path))

	total, err := s.Prober.Duration(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe duration of %s: %v: %w", filepath.Base(path), err, types.ErrPrecondition)
	}
	if total <= 0 {
		return nil, fmt.Errorf("audio %s has no measurable duration: %w", filepath.Base(path), types.ErrPrecondition)
	}

	windows := Plan(total, s.MaxDuration)
	if len(windows) == 1 {
		log.WithField("duration", total.String()).Debug("no split needed")
		return []types.AudioSegment{{Path: path, Index: 0, Start: 0, End: total}}, nil
	}

	if outputDir == "" {
		outputDir = filepath.Dir(path)
	}
	base, ext := chunkBase(path)
	segments := make([]types.AudioSegment, 0, len(windows))
	for i, w := range windows {
		dst := filepath.Join(outputDir, fmt.Sprintf("%s_chunk%03d%s", base, i, ext))
		if err := s.Cutter.Cut(ctx, path, dst, w.Start, w.End); err != nil {
			return nil, fmt.Errorf("cut segment %d: %w", i, err)
		}
		segments = append(segments, types.AudioSegment{Path: dst, Index: i, Start: w.Start, End: w.End})
	}
	log.WithField("duration", total.String()).
		WithField("segments", len(segments)).
		Info("audio split into segments")
	return segments, nil
}

func (s *Splitter) logger() *logger.Logger {
	if s.log == nil {
		s.log = logger.New().WithComponent("audio-splitter")
	}
	return s.log
}

func chunkBase(path string) (string, string) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	if ext == "" {
		ext = ".wav"
	}
	return base, ext
}
