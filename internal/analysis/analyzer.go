package analysis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"voice-qa-go/internal/llm"
	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/types"
)

// Result of one analysis run. Text is the model output, unmodified.
type Result struct {
	Text         string `json:"analysis_text"`
	AnalysisFile string `json:"analysis_file"`
}

type SummaryPoint struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type Answer struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	AnswerFile string `json:"answer_file,omitempty"`
}

type Analyzer struct {
	LLM llm.Completer
	log *logger.Logger
}

func NewAnalyzer(c llm.Completer) *Analyzer {
	return &Analyzer{LLM: c, log: logger.New().WithComponent("analysis")}
}

// AnalyzeFile runs the nine-point analysis over a conversation file and
// writes <base>_analysis.txt into outputDir (the file's own directory when empty).
// An unreadable or blank transcript fails before any model call.
func (a *Analyzer) AnalyzeFile(ctx context.Context, conversationFile, outputDir string) (Result, error) {
	transcript, err := readTranscript(conversationFile)
	if err != nil {
		return Result{}, err
	}
	if outputDir == "" {
		outputDir = filepath.Dir(conversationFile)
	}

	text, err := a.LLM.Complete(ctx, []llm.Message{
		llm.System(systemPrompt),
		llm.User(fmt.Sprintf(analysisPromptTemplate, transcript)),
	}, 0)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: %w", err)
	}

	path := filepath.Join(outputDir, baseName(conversationFile)+"_analysis.txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return Result{}, fmt.Errorf("write analysis file: %w", err)
	}
	a.logger().WithField("analysis_file", path).WithField("chars", len(text)).Info("analysis complete")
	return Result{Text: text, AnalysisFile: path}, nil
}

// Summarize condenses an analysis into a 2-3 word value per point. Points
// the model leaves out come back with an empty value.
func (a *Analyzer) Summarize(ctx context.Context, analysisText string) ([]SummaryPoint, error) {
	if strings.TrimSpace(analysisText) == "" {
		return nil, fmt.Errorf("empty analysis: %w", types.ErrPrecondition)
	}
	var items strings.Builder
	for i, t := range SummaryTitles {
		fmt.Fprintf(&items, "%d. %s\n", i+1, t)
	}
	out, err := a.LLM.Complete(ctx, []llm.Message{
		llm.User(fmt.Sprintf(summaryPromptTemplate, analysisText, items.String())),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return parseSummary(out), nil
}

var numberedLine = regexp.MustCompile(`^\s*\**\s*(\d+)[.)]\s*(.*)$`)

func parseSummary(text string) []SummaryPoint {
	points := make([]SummaryPoint, len(SummaryTitles))
	for i, t := range SummaryTitles {
		points[i].Title = t
	}
	for _, line := range strings.Split(text, "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > len(points) {
			continue
		}
		value := m[2]
		if i := strings.Index(value, ":"); i >= 0 {
			value = value[i+1:]
		}
		points[n-1].Value = strings.Trim(strings.TrimSpace(value), "*")
	}
	return points
}

// AnswerQuestion answers a free-form question about a transcript. When
// outputDir is set the answer is kept as <base>_question_<hash>.txt.
func (a *Analyzer) AnswerQuestion(ctx context.Context, transcript, question, base, outputDir string) (Answer, error) {
	if strings.TrimSpace(transcript) == "" {
		return Answer{}, fmt.Errorf("empty transcript: %w", types.ErrPrecondition)
	}
	if strings.TrimSpace(question) == "" {
		return Answer{}, fmt.Errorf("empty question: %w", types.ErrPrecondition)
	}
	text, err := a.LLM.Complete(ctx, []llm.Message{
		llm.User(fmt.Sprintf(questionPromptTemplate, transcript, question)),
	}, 0)
	if err != nil {
		return Answer{}, fmt.Errorf("question: %w", err)
	}
	ans := Answer{Question: question, Answer: text}
	if outputDir != "" {
		sum := sha1.Sum([]byte(question))
		path := filepath.Join(outputDir, fmt.Sprintf("%s_question_%s.txt", base, hex.EncodeToString(sum[:])[:6]))
		body := fmt.Sprintf("Question: %s\n\nAnswer:\n%s", question, text)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return ans, fmt.Errorf("write answer file: %w", err)
		}
		ans.AnswerFile = path
	}
	return ans, nil
}

func (a *Analyzer) logger() *logger.Logger {
	if a.log == nil {
		a.log = logger.New().WithComponent("analysis")
	}
	return a.log
}

func readTranscript(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read transcription %s: %v: %w", filepath.Base(path), err, types.ErrPrecondition)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", fmt.Errorf("empty transcription: %w", types.ErrPrecondition)
	}
	return string(b), nil
}

func baseName(conversationFile string) string {
	name := filepath.Base(conversationFile)
	return strings.TrimSuffix(strings.TrimSuffix(name, "_conversation.txt"), filepath.Ext(name))
}
