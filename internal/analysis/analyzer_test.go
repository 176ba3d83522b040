package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voice-qa-go/internal/llm/llmtest"
	"voice-qa-go/internal/types"
)

func writeConversation(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "_conversation.txt")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestAnalyzeFileWritesRawText(t *testing.T) {
	conv := writeConversation(t, "SPEAKER_00: Hello\nSPEAKER_01: My card was charged twice.\n")
	reply := "## 1. Customer & Agent\n- SPEAKER_01 is the customer\n"
	fake := &llmtest.Fake{Replies: []string{reply}}

	res, err := NewAnalyzer(fake).AnalyzeFile(context.Background(), conv, "")
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if res.Text != reply {
		t.Fatalf("analysis text must be returned as-is, got %q", res.Text)
	}
	if res.AnalysisFile != filepath.Join(filepath.Dir(conv), "_analysis.txt") {
		t.Fatalf("analysis file = %s", res.AnalysisFile)
	}
	saved, _ := os.ReadFile(res.AnalysisFile)
	if string(saved) != reply {
		t.Fatalf("saved = %q", saved)
	}
	if fake.Temps[0] != 0 {
		t.Fatalf("temperature = %v", fake.Temps[0])
	}
	if !strings.Contains(fake.LastPrompt(), "My card was charged twice.") || !strings.Contains(fake.LastPrompt(), "9. Summarize the **resolution**") {
		t.Fatalf("prompt missing transcript or nine points")
	}
	if fake.Calls[0][0].Role != "system" {
		t.Fatalf("expected a system message first")
	}
}

func TestAnalyzeFileEmptyTranscriptMakesNoCall(t *testing.T) {
	fake := &llmtest.Fake{Replies: []string{"unused"}}
	a := NewAnalyzer(fake)

	for _, path := range []string{
		writeConversation(t, "  \n\t"),
		filepath.Join(t.TempDir(), "missing_conversation.txt"),
	} {
		_, err := a.AnalyzeFile(context.Background(), path, "")
		if !errors.Is(err, types.ErrPrecondition) {
			t.Fatalf("expected precondition error for %s, got %v", path, err)
		}
	}
	if fake.CallCount() != 0 {
		t.Fatalf("expected zero model calls, got %d", fake.CallCount())
	}
}

func TestAnalyzeFileUpstreamError(t *testing.T) {
	fake := &llmtest.Fake{Err: types.ErrUpstream}
	_, err := NewAnalyzer(fake).AnalyzeFile(context.Background(), writeConversation(t, "A: hi\n"), "")
	if !errors.Is(err, types.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestSummarizeParsesNumberedLines(t *testing.T) {
	fake := &llmtest.Fake{Replies: []string{
		"1. Customer & Agent: Speaker 1 customer\n**3.** Main Issue: **Double charge**\n9) Resolution: Refund issued\n12. Extra: ignored",
	}}
	points, err := NewAnalyzer(fake).Summarize(context.Background(), "analysis text")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(points) != 9 {
		t.Fatalf("expected 9 points, got %d", len(points))
	}
	if points[0].Value != "Speaker 1 customer" || points[8].Value != "Refund issued" {
		t.Fatalf("points = %+v", points)
	}
	if points[1].Value != "" || points[1].Title != "Customer Type" {
		t.Fatalf("missing point should stay empty: %+v", points[1])
	}

	if _, err := NewAnalyzer(fake).Summarize(context.Background(), " "); !errors.Is(err, types.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestAnswerQuestionWritesFile(t *testing.T) {
	out := t.TempDir()
	fake := &llmtest.Fake{Replies: []string{"The agent offered a refund."}}
	ans, err := NewAnalyzer(fake).AnswerQuestion(context.Background(), "A: hi\nB: refund please\n", "Was a refund offered?", "call", out)
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if ans.Answer != "The agent offered a refund." {
		t.Fatalf("answer = %q", ans.Answer)
	}
	if !strings.HasPrefix(filepath.Base(ans.AnswerFile), "call_question_") || len(filepath.Base(ans.AnswerFile)) != len("call_question_abcdef.txt") {
		t.Fatalf("answer file = %s", ans.AnswerFile)
	}
	body, _ := os.ReadFile(ans.AnswerFile)
	if !strings.HasPrefix(string(body), "Question: Was a refund offered?") {
		t.Fatalf("answer file body = %q", body)
	}

	if _, err := NewAnalyzer(fake).AnswerQuestion(context.Background(), "", "q", "call", ""); !errors.Is(err, types.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestAnalyzerLiteralWithoutConstructor(t *testing.T) {
	conv := writeConversation(t, "SPEAKER_00: Hello\n")
	a := &Analyzer{LLM: &llmtest.Fake{Replies: []string{"analysis"}}}
	res, err := a.AnalyzeFile(context.Background(), conv, t.TempDir())
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if res.Text != "analysis" {
		t.Fatalf("text = %q", res.Text)
	}
}
