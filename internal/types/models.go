package types

import (
	"fmt"
	"strings"
	"time"
)

// AudioSegment is one contiguous slice of a recording. Start and End are
// offsets into the original file.
type AudioSegment struct {
	Path  string        `json:"path"`
	Index int           `json:"index"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

func (s AudioSegment) Duration() time.Duration { return s.End - s.Start }

// Utterance times are seconds from the start of the original recording.
type Utterance struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Line renders the utterance on a single line; runs of whitespace in the
// text, newlines included, collapse to one space.
func (u Utterance) Line() string {
	return fmt.Sprintf("%s: %s", u.Speaker, strings.Join(strings.Fields(u.Text), " "))
}

type Transcript struct {
	Utterances []Utterance `json:"utterances"`
}

// Lines renders the conversation as "<speaker>: <text>" lines.
func (t Transcript) Lines() []string {
	out := make([]string, 0, len(t.Utterances))
	for _, u := range t.Utterances {
		out = append(out, u.Line())
	}
	return out
}

func (t Transcript) Text() string {
	if len(t.Utterances) == 0 {
		return ""
	}
	return strings.Join(t.Lines(), "\n") + "\n"
}

// SpeakerTotals sums speaking time per speaker label.
func (t Transcript) SpeakerTotals() map[string]float64 {
	totals := map[string]float64{}
	for _, u := range t.Utterances {
		if u.End > u.Start {
			totals[u.Speaker] += u.End - u.Start
		}
	}
	return totals
}

type ScorecardItem struct {
	Category    string `json:"category,omitempty"`
	Criterion   string `json:"criterion"`
	Description string `json:"description,omitempty"`
	MaxScore    int    `json:"max_score,omitempty"`
}

type Scorecard struct {
	Version   string          `json:"version"`
	Items     []ScorecardItem `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
}

type GradeEntry struct {
	Criterion string `json:"criterion"`
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

type GradingResult struct {
	Grades       []GradeEntry `json:"grades"`
	OverallScore float64      `json:"overall_score"`
	Summary      string       `json:"summary"`
	GradingFile  string       `json:"grading_file,omitempty"`
}

// Mean is the arithmetic mean of all grade scores, 0 when there are none.
func (g GradingResult) Mean() float64 {
	if len(g.Grades) == 0 {
		return 0
	}
	sum := 0
	for _, e := range g.Grades {
		sum += e.Score
	}
	return float64(sum) / float64(len(g.Grades))
}

// CallRecord is one persisted pipeline result. Grades is nil when the call
// was processed without a scorecard.
type CallRecord struct {
	ID         int64          `json:"call_id"`
	Filename   string         `json:"filename"`
	UploadTime time.Time      `json:"upload_time"`
	Transcript string         `json:"transcript"`
	Analysis   string         `json:"analysis"`
	Grades     *GradingResult `json:"grades,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// CallSummary is the history list projection of a CallRecord.
type CallSummary struct {
	ID           int64     `json:"call_id"`
	Filename     string    `json:"filename"`
	UploadTime   time.Time `json:"upload_time"`
	Graded       bool      `json:"graded"`
	OverallScore float64   `json:"overall_score"`
	CreatedAt    time.Time `json:"created_at"`
}
