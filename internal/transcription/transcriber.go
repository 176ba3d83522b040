package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/metrics"
	"voice-qa-go/internal/types"
)

const (
	ConversationFileName = "_conversation.txt"
	TimingFileName       = "_timing.json"
	RawDirName           = "raw"
)

// Result is a merged transcript and where its artifacts were written.
type Result struct {
	ConversationFile string           `json:"conversation_file"`
	TimingFile       string           `json:"timing_file"`
	RawOutputDir     string           `json:"raw_output_dir"`
	Transcript       types.Transcript `json:"transcript"`
}

// TimingEntry is one element of the timing file, parallel to the
// conversation file's lines.
type TimingEntry struct {
	Line    int     `json:"line"`
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Transcriber runs a Provider over every segment of a recording and merges
// the results onto the original recording's timeline.
//
// Speaker labels come from the provider per segment. They are not
// reconciled across segment boundaries, so SPEAKER_00 in one segment is not
// necessarily SPEAKER_00 in the next.
type Transcriber struct {
	Provider Provider
	Speakers int
	log      *logger.Logger
}

func NewTranscriber(p Provider, speakers int) *Transcriber {
	return &Transcriber{
		Provider: p,
		Speakers: speakers,
		log:      logger.New().WithComponent("transcriber"),
	}
}

// Run transcribes segments sequentially, in order, expecting speakers
// distinct voices (t.Speakers when speakers <= 0). The first failing
// segment fails the whole call and no transcript files are written.
func (t *Transcriber) Run(ctx context.Context, segments []types.AudioSegment, speakers int, outputDir string) (Result, error) {
	if len(segments) == 0 {
		return Result{}, fmt.Errorf("no audio segments to transcribe: %w", types.ErrPrecondition)
	}
	if speakers <= 0 {
		speakers = t.Speakers
	}
	rawDir := filepath.Join(outputDir, RawDirName)
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create raw output dir: %w", err)
	}

	var merged types.Transcript
	for _, seg := range segments {
		log := t.logger().WithField("provider", t.Provider.Name()).
			WithField("segment", seg.Index).
			WithField("offset", seg.Start.String()).
			WithField("length", seg.Duration().String())
		res, err := t.Provider.Transcribe(ctx, seg, speakers)
		metrics.DefaultMetrics.RecordSTTSegment(t.Provider.Name(), err)
		if len(res.Raw) > 0 {
			if werr := os.WriteFile(filepath.Join(rawDir, fmt.Sprintf("segment_%03d.json", seg.Index)), res.Raw, 0o644); werr != nil {
				log.WithField("error", werr.Error()).Warn("failed to keep raw transcription output")
			}
		}
		if err != nil {
			return Result{}, fmt.Errorf("transcribe segment %d: %w", seg.Index, err)
		}

		offset := seg.Start.Seconds()
		for _, u := range res.Utterances {
			u.Start += offset
			u.End += offset
			merged.Utterances = append(merged.Utterances, u)
		}
		log.WithField("utterances", len(res.Utterances)).Debug("segment merged")
	}

	conv := filepath.Join(outputDir, ConversationFileName)
	if err := os.WriteFile(conv, []byte(merged.Text()), 0o644); err != nil {
		return Result{}, fmt.Errorf("write conversation file: %w", err)
	}
	timing := filepath.Join(outputDir, TimingFileName)
	if err := writeTiming(timing, merged); err != nil {
		return Result{}, err
	}

	t.logger().WithField("segments", len(segments)).
		WithField("utterances", len(merged.Utterances)).
		Info("transcription complete")
	return Result{
		ConversationFile: conv,
		TimingFile:       timing,
		RawOutputDir:     rawDir,
		Transcript:       merged,
	}, nil
}

func (t *Transcriber) logger() *logger.Logger {
	if t.log == nil {
		t.log = logger.New().WithComponent("transcriber")
	}
	return t.log
}

func writeTiming(path string, tr types.Transcript) error {
	entries := make([]TimingEntry, 0, len(tr.Utterances))
	for i, u := range tr.Utterances {
		entries = append(entries, TimingEntry{Line: i + 1, Speaker: u.Speaker, Start: u.Start, End: u.End})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode timing: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write timing file: %w", err)
	}
	return nil
}
