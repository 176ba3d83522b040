package grading

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"voice-qa-go/internal/types"
)

// minNameRatio is the similarity a model-echoed criterion name needs to be
// matched to an input criterion when the names are not equal.
const minNameRatio = 0.8

// StripFence returns the body of the first ``` fenced block in s, dropping
// the optional language tag. A reply that is already a JSON value, and text
// without a fence, are returned trimmed.
func StripFence(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if t := strings.TrimSpace(s); json.Valid([]byte(t)) {
		return t
	}
	open := strings.Index(s, "```")
	if open < 0 {
		return strings.TrimSpace(s)
	}
	rest := s[open+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && isFenceTag(strings.TrimSpace(rest[:nl])) {
		rest = rest[nl+1:]
	} else if nl < 0 && strings.HasPrefix(strings.ToLower(rest), "json") {
		rest = rest[len("json"):]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func isFenceTag(s string) bool {
	if len(s) > 16 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

type gradingPayload struct {
	Grades  *[]gradePayload `json:"grades"`
	Summary string          `json:"summary"`
}

type gradePayload struct {
	Criterion *string         `json:"criterion"`
	Criteria  *string         `json:"criteria"`
	Score     json.RawMessage `json:"score"`
	Reasoning string          `json:"reasoning"`
}

// Parse decodes a raw model completion into a grading result aligned to
// criteria. It fails with ErrMalformedOutput when the completion is not a
// JSON object with a grades array, when a score is not an integer from 1
// to 5, or when the grades do not correspond one-to-one with criteria.
// OverallScore is always the mean of the parsed scores.
func Parse(raw string, criteria []string) (types.GradingResult, error) {
	body := StripFence(raw)
	if body == "" {
		return types.GradingResult{}, fmt.Errorf("empty grading response: %w", types.ErrMalformedOutput)
	}

	var p gradingPayload
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(&p); err != nil {
		return types.GradingResult{}, fmt.Errorf("invalid grading JSON: %v: %w", err, types.ErrMalformedOutput)
	}
	if dec.More() {
		return types.GradingResult{}, fmt.Errorf("trailing content after grading JSON: %w", types.ErrMalformedOutput)
	}
	if p.Grades == nil {
		return types.GradingResult{}, fmt.Errorf("grading JSON has no grades array: %w", types.ErrMalformedOutput)
	}

	parsed := make([]types.GradeEntry, 0, len(*p.Grades))
	for i, g := range *p.Grades {
		name := ""
		switch {
		case g.Criterion != nil:
			name = *g.Criterion
		case g.Criteria != nil:
			name = *g.Criteria
		}
		score, err := parseScore(g.Score)
		if err != nil {
			return types.GradingResult{}, fmt.Errorf("grade %d (%q): %v: %w", i, name, err, types.ErrMalformedOutput)
		}
		parsed = append(parsed, types.GradeEntry{Criterion: strings.TrimSpace(name), Score: score, Reasoning: strings.TrimSpace(g.Reasoning)})
	}

	aligned, err := align(parsed, criteria)
	if err != nil {
		return types.GradingResult{}, err
	}
	res := types.GradingResult{Grades: aligned, Summary: p.Summary}
	res.OverallScore = res.Mean()
	return res, nil
}

func parseScore(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("missing score")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("score %s is not a number", string(raw))
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("score %v is not an integer", f)
	}
	if f < 1 || f > 5 {
		return 0, fmt.Errorf("score %v outside 1-5", f)
	}
	return int(f), nil
}

// align returns one grade per criterion in input order. Grades are matched
// by case-insensitive name first, then by closest edit-distance ratio, and
// finally by position when the model did not echo names at all.
func align(grades []types.GradeEntry, criteria []string) ([]types.GradeEntry, error) {
	if len(grades) != len(criteria) {
		return nil, fmt.Errorf("expected %d grades, got %d: %w", len(criteria), len(grades), types.ErrMalformedOutput)
	}

	unnamed := true
	for _, g := range grades {
		if g.Criterion != "" {
			unnamed = false
			break
		}
	}
	out := make([]types.GradeEntry, len(criteria))
	if unnamed {
		for i, c := range criteria {
			out[i] = grades[i]
			out[i].Criterion = c
		}
		return out, nil
	}

	used := make([]bool, len(grades))
	matched := make([]bool, len(criteria))
	for i, c := range criteria {
		key := normalize(c)
		for j, g := range grades {
			if !used[j] && normalize(g.Criterion) == key {
				out[i], used[j], matched[i] = g, true, true
				break
			}
		}
	}
	for i, c := range criteria {
		if matched[i] {
			continue
		}
		best, bestRatio := -1, 0.0
		for j, g := range grades {
			if used[j] {
				continue
			}
			if r := ratio(c, g.Criterion); r > bestRatio {
				best, bestRatio = j, r
			}
		}
		if best < 0 || bestRatio < minNameRatio {
			return nil, fmt.Errorf("no grade for criterion %q: %w", c, types.ErrMalformedOutput)
		}
		out[i], used[best] = grades[best], true
	}
	for i, c := range criteria {
		out[i].Criterion = c
	}
	return out, nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func ratio(a, b string) float64 {
	return levenshtein.RatioForStrings([]rune(normalize(a)), []rune(normalize(b)), levenshtein.DefaultOptions)
}
