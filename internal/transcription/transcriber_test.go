package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"voice-qa-go/internal/types"
)

type scriptedProvider struct {
	results map[int]SegmentResult
	fail    map[int]error
	calls   []int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Transcribe(_ context.Context, seg types.AudioSegment, _ int) (SegmentResult, error) {
	s.calls = append(s.calls, seg.Index)
	if err := s.fail[seg.Index]; err != nil {
		return SegmentResult{Raw: []byte(`{"error":"boom"}`)}, err
	}
	return s.results[seg.Index], nil
}

func twoSegments() []types.AudioSegment {
	return []types.AudioSegment{
		{Path: "a_chunk000.wav", Index: 0, Start: 0, End: 10 * time.Minute},
		{Path: "a_chunk001.wav", Index: 1, Start: 10 * time.Minute, End: 12 * time.Minute},
	}
}

func TestRunMergesSegmentsOnOriginalTimeline(t *testing.T) {
	out := t.TempDir()
	p := &scriptedProvider{results: map[int]SegmentResult{
		0: {Utterances: []types.Utterance{
			{Speaker: "SPEAKER_00", Text: "Thanks for calling.", Start: 1, End: 3},
			{Speaker: "SPEAKER_01", Text: "I need a refund.", Start: 3.5, End: 5},
		}, Raw: []byte(`{"seg":0}`)},
		1: {Utterances: []types.Utterance{
			{Speaker: "SPEAKER_00", Text: "Refund processed.", Start: 2, End: 4},
		}, Raw: []byte(`{"seg":1}`)},
	}}

	res, err := NewTranscriber(p, 2).Run(context.Background(), twoSegments(), 0, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(p.calls) != 2 || p.calls[0] != 0 || p.calls[1] != 1 {
		t.Fatalf("segments must be processed in order, got %v", p.calls)
	}

	utts := res.Transcript.Utterances
	if len(utts) != 3 {
		t.Fatalf("expected 3 utterances, got %d", len(utts))
	}
	if utts[2].Start != 602 || utts[2].End != 604 {
		t.Fatalf("second segment not rebased: %+v", utts[2])
	}

	conv, err := os.ReadFile(res.ConversationFile)
	if err != nil {
		t.Fatalf("read conversation: %v", err)
	}
	want := "SPEAKER_00: Thanks for calling.\nSPEAKER_01: I need a refund.\nSPEAKER_00: Refund processed.\n"
	if string(conv) != want {
		t.Fatalf("conversation = %q", conv)
	}

	var timing []TimingEntry
	data, _ := os.ReadFile(res.TimingFile)
	if err := json.Unmarshal(data, &timing); err != nil {
		t.Fatalf("timing file: %v", err)
	}
	if len(timing) != 3 || timing[2].Line != 3 || timing[2].Start != 602 {
		t.Fatalf("timing = %+v", timing)
	}

	for i := 0; i < 2; i++ {
		if _, err := os.Stat(filepath.Join(res.RawOutputDir, fmt.Sprintf("segment_%03d.json", i))); err != nil {
			t.Errorf("raw output for segment %d missing: %v", i, err)
		}
	}
}

func TestRunFailsWholeCallOnSegmentFailure(t *testing.T) {
	out := t.TempDir()
	p := &scriptedProvider{
		results: map[int]SegmentResult{0: {Utterances: []types.Utterance{{Speaker: "SPEAKER_00", Text: "hi"}}}},
		fail:    map[int]error{1: fmt.Errorf("job failed: %w", types.ErrUpstream)},
	}
	_, err := NewTranscriber(p, 2).Run(context.Background(), twoSegments(), 0, out)
	if err == nil {
		t.Fatal("expected failure")
	}
	if _, statErr := os.Stat(filepath.Join(out, ConversationFileName)); !os.IsNotExist(statErr) {
		t.Fatalf("no conversation file should be written on failure")
	}
	if _, statErr := os.Stat(filepath.Join(out, RawDirName, "segment_001.json")); statErr != nil {
		t.Fatalf("failing segment's raw response should be kept: %v", statErr)
	}
}

func TestRunWithoutSegments(t *testing.T) {
	_, err := NewTranscriber(&scriptedProvider{}, 2).Run(context.Background(), nil, 2, t.TempDir())
	if !errors.Is(err, types.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestRunLiteralTranscriberKeepsLinesParallelToTiming(t *testing.T) {
	out := t.TempDir()
	p := &scriptedProvider{results: map[int]SegmentResult{
		0: {Utterances: []types.Utterance{
			{Speaker: "SPEAKER_00", Text: "line one\nline two", Start: 0, End: 2},
			{Speaker: "SPEAKER_01", Text: "ok", Start: 2, End: 3},
		}},
	}}
	tr := &Transcriber{Provider: p, Speakers: 2}
	res, err := tr.Run(context.Background(), []types.AudioSegment{{Path: "a.wav", End: time.Minute}}, 0, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	conv, err := os.ReadFile(res.ConversationFile)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(conv), "\n"), "\n")
	var timing []TimingEntry
	data, err := os.ReadFile(res.TimingFile)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &timing); err != nil {
		t.Fatal(err)
	}
	if len(lines) != len(timing) || len(lines) != 2 {
		t.Fatalf("%d lines vs %d timing entries: %q", len(lines), len(timing), conv)
	}
	if lines[0] != "SPEAKER_00: line one line two" {
		t.Fatalf("line = %q", lines[0])
	}
}

func word(w string, tag int32, start, end time.Duration) *speechpb.WordInfo {
	return &speechpb.WordInfo{
		Word:       w,
		SpeakerTag: tag,
		StartTime:  durationpb.New(start),
		EndTime:    durationpb.New(end),
	}
}

func TestUtterancesFromResultsGroupsBySpeaker(t *testing.T) {
	results := []*speechpb.SpeechRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "hello how can I help"}}},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Words: []*speechpb.WordInfo{
			word("hello", 1, 0, 500*time.Millisecond),
			word("there", 1, 500*time.Millisecond, time.Second),
			word("my", 2, 2*time.Second, 2200*time.Millisecond),
			word("bill", 2, 2200*time.Millisecond, 2600*time.Millisecond),
		}}}},
	}
	utts := utterancesFromResults(results)
	if len(utts) != 2 {
		t.Fatalf("expected 2 utterances, got %+v", utts)
	}
	if utts[0].Speaker != "SPEAKER_00" || utts[0].Text != "hello there" || utts[0].End != 1 {
		t.Errorf("first = %+v", utts[0])
	}
	if utts[1].Speaker != "SPEAKER_01" || utts[1].Text != "my bill" || utts[1].Start != 2 {
		t.Errorf("second = %+v", utts[1])
	}
}

func TestUtterancesFromResultsWithoutDiarization(t *testing.T) {
	results := []*speechpb.SpeechRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "first part"}}},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "second part"}}},
	}
	utts := utterancesFromResults(results)
	if len(utts) != 1 || utts[0].Text != "first part second part" {
		t.Fatalf("utterances = %+v", utts)
	}
}
