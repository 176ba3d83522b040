package transcription

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"

	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/types"
)

// GoogleProvider runs long-running diarized recognition on Google Cloud Speech-to-Text.
type GoogleProvider struct {
	client       *speech.Client
	LanguageCode string
	log          *logger.Logger
}

// GoogleMaxSegmentDuration bounds segments sent to Google. Audio goes inline
// in the request, which Google caps at 10 MB; five minutes of 16 kHz 16-bit
// mono WAV stays under that.
const GoogleMaxSegmentDuration = 5 * time.Minute

// NewGoogleProvider dials the Speech API. Segments are sent inline, so the
// splitter threshold must not exceed GoogleMaxSegmentDuration.
func NewGoogleProvider(ctx context.Context, languageCode, credentialsFile string) (*GoogleProvider, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Speech client: %w", err)
	}
	return &GoogleProvider{
		client:       c,
		LanguageCode: languageCode,
		log:          logger.New().WithComponent("transcription-google"),
	}, nil
}

func (g *GoogleProvider) Name() string { return "google" }

func (g *GoogleProvider) Close() error { return g.client.Close() }

func (g *GoogleProvider) Transcribe(ctx context.Context, seg types.AudioSegment, speakers int) (SegmentResult, error) {
	content, err := os.ReadFile(seg.Path)
	if err != nil {
		return SegmentResult{}, fmt.Errorf("read segment: %v: %w", err, types.ErrPrecondition)
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: recognitionConfig(seg.Path, g.LanguageCode, speakers),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: content}},
	}
	op, err := g.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return SegmentResult{}, fmt.Errorf("start recognition: %v: %w", err, types.ErrUpstream)
	}
	g.log.WithField("segment", seg.Index).WithField("operation", op.Name()).Info("recognition started")

	resp, err := op.Wait(ctx)
	if err != nil {
		return SegmentResult{JobID: op.Name()}, fmt.Errorf("recognition operation %s failed: %v: %w", op.Name(), err, types.ErrUpstream)
	}
	raw, _ := protojson.MarshalOptions{Indent: "  "}.Marshal(resp)

	utts := utterancesFromResults(resp.GetResults())
	if len(utts) == 0 {
		return SegmentResult{JobID: op.Name(), Raw: raw}, fmt.Errorf("recognition operation %s returned no speech: %w", op.Name(), types.ErrUpstream)
	}
	return SegmentResult{JobID: op.Name(), Utterances: utts, Raw: raw}, nil
}

func recognitionConfig(path, languageCode string, speakers int) *speechpb.RecognitionConfig {
	cfg := &speechpb.RecognitionConfig{
		LanguageCode:               languageCode,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
		},
	}
	if speakers > 0 {
		cfg.DiarizationConfig.MinSpeakerCount = int32(speakers)
		cfg.DiarizationConfig.MaxSpeakerCount = int32(speakers)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		cfg.Encoding = speechpb.RecognitionConfig_MP3
	case ".flac":
		cfg.Encoding = speechpb.RecognitionConfig_FLAC
	case ".ogg", ".opus":
		cfg.Encoding = speechpb.RecognitionConfig_OGG_OPUS
	}
	return cfg
}

// utterancesFromResults groups diarized words into utterances at each
// speaker change. With diarization on, the last result carries every word
// of the audio with its speaker tag.
func utterancesFromResults(results []*speechpb.SpeechRecognitionResult) []types.Utterance {
	if len(results) == 0 {
		return nil
	}
	last := results[len(results)-1]
	if len(last.GetAlternatives()) == 0 {
		return nil
	}
	words := last.GetAlternatives()[0].GetWords()
	if len(words) == 0 || words[0].GetSpeakerTag() == 0 {
		return transcriptOnly(results)
	}

	var out []types.Utterance
	var cur *types.Utterance
	var tag int32 = -1
	for _, w := range words {
		if cur == nil || w.GetSpeakerTag() != tag {
			if cur != nil {
				out = append(out, *cur)
			}
			tag = w.GetSpeakerTag()
			cur = &types.Utterance{
				Speaker: fmt.Sprintf("SPEAKER_%02d", tag-1),
				Start:   w.GetStartTime().AsDuration().Seconds(),
			}
		}
		if cur.Text != "" {
			cur.Text += " "
		}
		cur.Text += w.GetWord()
		cur.End = w.GetEndTime().AsDuration().Seconds()
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

func transcriptOnly(results []*speechpb.SpeechRecognitionResult) []types.Utterance {
	var parts []string
	for _, r := range results {
		if alts := r.GetAlternatives(); len(alts) > 0 && alts[0].GetTranscript() != "" {
			parts = append(parts, strings.TrimSpace(alts[0].GetTranscript()))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return []types.Utterance{{Speaker: "SPEAKER_00", Text: strings.Join(parts, " ")}}
}
