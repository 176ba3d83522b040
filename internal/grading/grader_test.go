package grading

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voice-qa-go/internal/llm/llmtest"
	"voice-qa-go/internal/types"
)

var criteria = []string{"Greeting", "Empathy", "Resolution"}

const transcript = "SPEAKER_00: Hello, thanks for calling.\nSPEAKER_01: My bill is wrong.\n"

func TestGradeFencedResponse(t *testing.T) {
	reply := "Here is the evaluation:\n```json\n" + `{
  "grades": [
    {"criterion": "Greeting", "score": 4, "reasoning": "Warm opening"},
    {"criterion": "Empathy", "score": 2, "reasoning": "Little acknowledgement"},
    {"criterion": "Resolution", "score": 3, "reasoning": "Partially fixed"}
  ],
  "overall_score": 4.5,
  "summary": "Decent call"
}` + "\n```\nLet me know if you need more."
	fake := &llmtest.Fake{Replies: []string{reply}}
	out := t.TempDir()
	g := NewGrader(fake)
	g.Now = func() time.Time { return time.Date(2025, 3, 7, 9, 5, 3, 0, time.UTC) }

	res, err := g.Grade(context.Background(), transcript, criteria, out)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if len(res.Grades) != 3 || res.Grades[1].Criterion != "Empathy" || res.Grades[1].Score != 2 {
		t.Fatalf("grades = %+v", res.Grades)
	}
	if res.OverallScore != 3 {
		t.Fatalf("overall score must be recomputed as mean, got %v", res.OverallScore)
	}
	if res.Summary != "Decent call" {
		t.Fatalf("summary = %q", res.Summary)
	}
	want := filepath.Join(out, "grading_20250307_090503.json")
	if res.GradingFile != want {
		t.Fatalf("grading file = %s, want %s", res.GradingFile, want)
	}
	var saved types.GradingResult
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read grading file: %v", err)
	}
	if err := json.Unmarshal(data, &saved); err != nil || saved.OverallScore != 3 || len(saved.Grades) != 3 {
		t.Fatalf("saved = %+v, err %v", saved, err)
	}
	if fake.Temps[0] != 0 {
		t.Fatalf("temperature = %v", fake.Temps[0])
	}
	prompt := fake.LastPrompt()
	if !strings.Contains(prompt, "- Greeting\n- Empathy\n- Resolution") || !strings.Contains(prompt, "My bill is wrong.") {
		t.Fatalf("prompt missing criteria or transcript:\n%s", prompt)
	}
}

func TestGradeWithoutOutputDir(t *testing.T) {
	fake := &llmtest.Fake{Replies: []string{`{"grades":[{"criterion":"Greeting","score":5,"reasoning":"ok"}],"summary":"s"}`}}
	res, err := NewGrader(fake).Grade(context.Background(), transcript, []string{"Greeting"}, "")
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.GradingFile != "" || res.OverallScore != 5 {
		t.Fatalf("res = %+v", res)
	}
}

func TestGradePreconditionsMakeNoCalls(t *testing.T) {
	fake := &llmtest.Fake{Replies: []string{"unused"}}
	g := NewGrader(fake)

	_, errTranscript := g.Grade(context.Background(), "   \n", criteria, "")
	_, errCriteria := g.Grade(context.Background(), transcript, nil, "")
	_, errBlankCriteria := g.Grade(context.Background(), transcript, []string{" ", ""}, "")

	for _, err := range []error{errTranscript, errCriteria, errBlankCriteria} {
		if !errors.Is(err, types.ErrPrecondition) {
			t.Fatalf("expected precondition error, got %v", err)
		}
	}
	if !strings.Contains(errTranscript.Error(), "transcript") {
		t.Errorf("transcript error should mention the transcript: %v", errTranscript)
	}
	if errTranscript.Error() == errCriteria.Error() {
		t.Errorf("empty transcript and empty scorecard must have distinct messages")
	}
	if fake.CallCount() != 0 {
		t.Fatalf("expected zero model calls, got %d", fake.CallCount())
	}
}

func TestGradeRejectsBlankCriterionAmongOthers(t *testing.T) {
	fake := &llmtest.Fake{Replies: []string{`{"grades":[{"criterion":"Greeting","score":4,"reasoning":"ok"}]}`}}
	_, err := NewGrader(fake).Grade(context.Background(), "Agent: Hello\n", []string{"Greeting", "  "}, "")
	if !errors.Is(err, types.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if fake.CallCount() != 0 {
		t.Fatalf("expected zero model calls, got %d", fake.CallCount())
	}
}

func TestGraderLiteralWithoutConstructor(t *testing.T) {
	fake := &llmtest.Fake{Replies: []string{`{"grades":[{"criterion":"Greeting","score":4,"reasoning":"ok"}],"summary":"s"}`}}
	g := &Grader{LLM: fake}
	res, err := g.Grade(context.Background(), transcript, []string{"Greeting"}, t.TempDir())
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.OverallScore != 4 || res.GradingFile == "" {
		t.Fatalf("res = %+v", res)
	}
}

func TestGradeMalformedResponses(t *testing.T) {
	cases := map[string]string{
		"not json":           "not json",
		"missing grades":     `{"overall_score": 3, "summary": "x"}`,
		"null grades":        `{"grades": null}`,
		"grades not array":   `{"grades": {"criterion": "Greeting"}}`,
		"score out of range": `{"grades":[{"criterion":"Greeting","score":7,"reasoning":""},{"criterion":"Empathy","score":3,"reasoning":""},{"criterion":"Resolution","score":3,"reasoning":""}]}`,
		"fractional score":   `{"grades":[{"criterion":"Greeting","score":3.5,"reasoning":""},{"criterion":"Empathy","score":3,"reasoning":""},{"criterion":"Resolution","score":3,"reasoning":""}]}`,
		"string score":       `{"grades":[{"criterion":"Greeting","score":"4","reasoning":""},{"criterion":"Empathy","score":3,"reasoning":""},{"criterion":"Resolution","score":3,"reasoning":""}]}`,
		"too few grades":     `{"grades":[{"criterion":"Greeting","score":3,"reasoning":""}]}`,
		"unknown criterion":  `{"grades":[{"criterion":"Greeting","score":3,"reasoning":""},{"criterion":"Upsell","score":3,"reasoning":""},{"criterion":"Resolution","score":3,"reasoning":""}]}`,
		"empty fence":        "```json\n```",
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			fake := &llmtest.Fake{Replies: []string{reply}}
			_, err := NewGrader(fake).Grade(context.Background(), transcript, criteria, "")
			if !errors.Is(err, types.ErrMalformedOutput) {
				t.Fatalf("expected malformed output error, got %v", err)
			}
		})
	}
}

func TestGradeUpstreamErrorIsDistinct(t *testing.T) {
	fake := &llmtest.Fake{Err: types.ErrUpstream}
	_, err := NewGrader(fake).Grade(context.Background(), transcript, criteria, "")
	if !errors.Is(err, types.ErrUpstream) || errors.Is(err, types.ErrMalformedOutput) {
		t.Fatalf("expected upstream-only error, got %v", err)
	}
}

func TestParseAlignsToInputOrder(t *testing.T) {
	raw := `{"grades":[
	  {"criterion":"resolution","score":5,"reasoning":"fixed"},
	  {"criteria":"Empathy shown","score":1,"reasoning":"cold"},
	  {"criterion":"GREETING","score":3,"reasoning":"ok"}
	],"summary":""}`
	res, err := Parse(raw, []string{"Greeting", "Empathy shown to customer", "Resolution"})
	if err == nil {
		t.Fatalf("low-similarity name should not match, got %+v", res)
	}

	res, err = Parse(raw, []string{"Greeting", "Empathy shown.", "Resolution"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := []int{res.Grades[0].Score, res.Grades[1].Score, res.Grades[2].Score}
	if got[0] != 3 || got[1] != 1 || got[2] != 5 {
		t.Fatalf("scores in input order = %v", got)
	}
	if res.Grades[1].Criterion != "Empathy shown." {
		t.Fatalf("criterion names should come from input, got %q", res.Grades[1].Criterion)
	}
	if res.OverallScore != 3 {
		t.Fatalf("overall = %v", res.OverallScore)
	}
}

func TestParseUnnamedGradesUsePosition(t *testing.T) {
	raw := `{"grades":[{"score":2,"reasoning":"a"},{"score":4,"reasoning":"b"}]}`
	res, err := Parse(raw, []string{"Greeting", "Closing"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Grades[0].Criterion != "Greeting" || res.Grades[1].Score != 4 {
		t.Fatalf("grades = %+v", res.Grades)
	}
}

func TestParseUnfencedJSONWithBackticksInReasoning(t *testing.T) {
	raw := `{"grades":[{"criterion":"Greeting","score":4,"reasoning":"agent pasted ` + "```code```" + ` in chat"}],"summary":"ok"}`
	res, err := Parse(raw, []string{"Greeting"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Grades[0].Reasoning != "agent pasted ```code``` in chat" {
		t.Fatalf("reasoning = %q", res.Grades[0].Reasoning)
	}
}

func TestStripFence(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":             `{"a":1}`,
		"```\n{\"a\":1}\n```":                 `{"a":1}`,
		"prefix\n```JSON\n{\"a\":1}```suffix": `{"a":1}`,
		"```json {\"a\":1}```":                `{"a":1}`,
		"  {\"a\":1}  ":                       `{"a":1}`,
		"```\n{\"a\":1}":                      `{"a":1}`,
	}
	for in, want := range cases {
		if got := StripFence(in); got != want {
			t.Errorf("StripFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOverallScoreAlwaysMean(t *testing.T) {
	scores := [][]int{{1}, {5, 5}, {1, 2, 3, 4, 5}, {2, 3}}
	for _, ss := range scores {
		var parts []string
		names := make([]string, len(ss))
		for i, s := range ss {
			names[i] = "criterion " + string(rune('A'+i))
			parts = append(parts, `{"criterion":"`+names[i]+`","score":`+string(rune('0'+s))+`,"reasoning":"r"}`)
		}
		raw := `{"grades":[` + strings.Join(parts, ",") + `],"overall_score":0}`
		res, err := Parse(raw, names)
		if err != nil {
			t.Fatalf("Parse(%v): %v", ss, err)
		}
		sum := 0
		for _, s := range ss {
			sum += s
		}
		if want := float64(sum) / float64(len(ss)); res.OverallScore != want {
			t.Errorf("scores %v: overall %v, want %v", ss, res.OverallScore, want)
		}
	}
}
