package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voice-qa-go/internal/llm"
	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/types"
)

// TimestampLayout names grading files: grading_20060102_150405.json.
const TimestampLayout = "20060102_150405"

const systemPrompt = "You are an expert call quality evaluator. " +
	"Grade calls objectively based on the provided criteria. " +
	"Always respond with valid JSON."

const promptTemplate = `Grade this call transcription based on the following criteria.

TRANSCRIPTION:
%s

SCORECARD CRITERIA:
%s

For each criterion, provide:
- Score (1-5, integer): 1=Poor, 2=Below Average, 3=Average, 4=Good, 5=Excellent
- Reasoning: Brief explanation for the score

Grade every criterion exactly once, in the order listed, repeating the criterion text verbatim.
Format your response as a single JSON object with this structure:
{
  "grades": [
    {
      "criterion": "criterion name",
      "score": <1-5>,
      "reasoning": "explanation"
    }
  ],
  "overall_score": <average score>,
  "summary": "overall assessment"
}
`

type Grader struct {
	LLM llm.Completer
	Now func() time.Time
	log *logger.Logger
}

func NewGrader(c llm.Completer) *Grader {
	return &Grader{LLM: c, Now: time.Now, log: logger.New().WithComponent("grading")}
}

// Prompt builds the user prompt for a transcript and ordered criteria.
func Prompt(transcript string, criteria []string) string {
	items := make([]string, len(criteria))
	for i, c := range criteria {
		items[i] = "- " + c
	}
	return fmt.Sprintf(promptTemplate, transcript, strings.Join(items, "\n"))
}

// Grade scores transcript against criteria. An empty transcript, an empty
// criteria list or a blank criterion fails before any model call. When
// outputDir is set the result is also written to grading_<timestamp>.json there.
func (g *Grader) Grade(ctx context.Context, transcript string, criteria []string, outputDir string) (types.GradingResult, error) {
	if strings.TrimSpace(transcript) == "" {
		return types.GradingResult{}, fmt.Errorf("empty transcript: %w", types.ErrPrecondition)
	}
	if len(criteria) == 0 {
		return types.GradingResult{}, fmt.Errorf("no scorecard items provided: %w", types.ErrPrecondition)
	}
	criteria, err := cleanCriteria(criteria)
	if err != nil {
		return types.GradingResult{}, err
	}

	raw, err := g.LLM.Complete(ctx, []llm.Message{
		llm.System(systemPrompt),
		llm.User(Prompt(transcript, criteria)),
	}, 0)
	if err != nil {
		return types.GradingResult{}, fmt.Errorf("grading: %w", err)
	}

	res, err := Parse(raw, criteria)
	if err != nil {
		g.logger().WithField("response_chars", len(raw)).WithField("error", err.Error()).Warn("grading response rejected")
		return types.GradingResult{}, fmt.Errorf("grading: %w", err)
	}

	if outputDir != "" {
		path, err := g.write(res, outputDir)
		if err != nil {
			return types.GradingResult{}, err
		}
		res.GradingFile = path
	}
	g.logger().WithField("criteria", len(criteria)).WithField("overall_score", res.OverallScore).Info("grading complete")
	return res, nil
}

func (g *Grader) write(res types.GradingResult, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create grading dir: %w", err)
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	path := filepath.Join(outputDir, "grading_"+now().Format(TimestampLayout)+".json")
	res.GradingFile = path
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode grading result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write grading file: %w", err)
	}
	return path, nil
}

// cleanCriteria trims each criterion. Every item must keep its slot so the
// result has one grade per scorecard row; a blank one is rejected.
func cleanCriteria(in []string) ([]string, error) {
	out := make([]string, len(in))
	for i, c := range in {
		out[i] = strings.TrimSpace(c)
		if out[i] == "" {
			return nil, fmt.Errorf("scorecard item %d is blank: %w", i+1, types.ErrPrecondition)
		}
	}
	return out, nil
}

func (g *Grader) logger() *logger.Logger {
	if g.log == nil {
		g.log = logger.New().WithComponent("grading")
	}
	return g.log
}
