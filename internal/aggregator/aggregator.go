package aggregator

import (
	"voice-qa-go/internal/actionable"
	"voice-qa-go/internal/types"
)

// Insight summarises the call history.
type Insight struct {
	TotalCalls      int                `json:"total_calls"`
	GradedCalls     int                `json:"graded_calls"`
	AverageScore    float64            `json:"average_score"`
	BandCounts      map[string]int     `json:"band_counts"`
	CriterionScores map[string]float64 `json:"criterion_scores"`
}

// Aggregate averages over graded calls only. Criteria are keyed by their
// exact text, so renamed criteria count separately.
func Aggregate(records []types.CallRecord) Insight {
	ins := Insight{
		TotalCalls:      len(records),
		BandCounts:      map[string]int{},
		CriterionScores: map[string]float64{},
	}
	sum := 0.0
	critSum := map[string]int{}
	critN := map[string]int{}
	for _, r := range records {
		if r.Grades == nil || len(r.Grades.Grades) == 0 {
			continue
		}
		ins.GradedCalls++
		sum += r.Grades.OverallScore
		ins.BandCounts[actionable.Band(r.Grades.OverallScore)]++
		for _, g := range r.Grades.Grades {
			critSum[g.Criterion] += g.Score
			critN[g.Criterion]++
		}
	}
	if ins.GradedCalls > 0 {
		ins.AverageScore = sum / float64(ins.GradedCalls)
	}
	for k, n := range critN {
		ins.CriterionScores[k] = float64(critSum[k]) / float64(n)
	}
	return ins
}
