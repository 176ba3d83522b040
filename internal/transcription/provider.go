package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"voice-qa-go/internal/types"
)

// Job states, normalized across providers.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// SegmentResult holds one segment's utterances with times local to the
// segment, plus the provider's unprocessed response.
type SegmentResult struct {
	JobID      string
	Utterances []types.Utterance
	Raw        []byte
}

// Provider runs one diarized transcription job for one audio segment.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, seg types.AudioSegment, speakers int) (SegmentResult, error)
}

type diarizedOutput struct {
	Transcript         *string `json:"transcript"`
	DiarizedTranscript *struct {
		Entries []diarizedEntry `json:"entries"`
	} `json:"diarized_transcript"`
}

type diarizedEntry struct {
	SpeakerID string  `json:"speaker_id"`
	Text      string  `json:"transcript"`
	Start     float64 `json:"start_time_seconds"`
	End       float64 `json:"end_time_seconds"`
}

// parseDiarized decodes a job output document. When no diarized entries are
// present the plain transcript becomes a single SPEAKER_00 utterance.
func parseDiarized(raw []byte) ([]types.Utterance, error) {
	var out diarizedOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode transcription output: %v: %w", err, types.ErrUpstream)
	}

	var utts []types.Utterance
	if out.DiarizedTranscript != nil {
		for _, e := range out.DiarizedTranscript.Entries {
			speaker := e.SpeakerID
			if speaker == "" {
				speaker = "UNKNOWN"
			}
			utts = append(utts, types.Utterance{
				Speaker: speaker,
				Text:    strings.TrimSpace(e.Text),
				Start:   e.Start,
				End:     e.End,
			})
		}
	}
	if len(utts) == 0 && out.Transcript != nil {
		utts = append(utts, types.Utterance{Speaker: "SPEAKER_00", Text: strings.TrimSpace(*out.Transcript)})
	}
	if len(utts) == 0 {
		return nil, fmt.Errorf("transcription output has neither diarized entries nor transcript: %w", types.ErrUpstream)
	}
	return utts, nil
}

func normalizeState(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accepted", "pending", "queued", "created":
		return StateQueued
	case "running", "processing", "in_progress":
		return StateRunning
	case "completed", "complete", "succeeded", "success":
		return StateSucceeded
	case "failed", "error", "cancelled":
		return StateFailed
	default:
		return StateQueued
	}
}
