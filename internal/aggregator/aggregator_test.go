package aggregator

import (
	"testing"

	"voice-qa-go/internal/types"
)

func graded(overall float64, grades ...types.GradeEntry) types.CallRecord {
	return types.CallRecord{Grades: &types.GradingResult{Grades: grades, OverallScore: overall}}
}

func TestAggregate(t *testing.T) {
	recs := []types.CallRecord{
		graded(4.5, types.GradeEntry{Criterion: "Greeting", Score: 5}, types.GradeEntry{Criterion: "Empathy", Score: 4}),
		graded(2, types.GradeEntry{Criterion: "Greeting", Score: 3}, types.GradeEntry{Criterion: "Empathy", Score: 1}),
		{Filename: "ungraded.mp3"},
	}
	ins := Aggregate(recs)
	if ins.TotalCalls != 3 || ins.GradedCalls != 2 {
		t.Fatalf("counts = %+v", ins)
	}
	if ins.AverageScore != 3.25 {
		t.Fatalf("average = %v", ins.AverageScore)
	}
	if ins.BandCounts["Excellent"] != 1 || ins.BandCounts["Fair"] != 1 {
		t.Fatalf("bands = %v", ins.BandCounts)
	}
	if ins.CriterionScores["Greeting"] != 4 || ins.CriterionScores["Empathy"] != 2.5 {
		t.Fatalf("criteria = %v", ins.CriterionScores)
	}
}

func TestAggregateEmpty(t *testing.T) {
	ins := Aggregate(nil)
	if ins.TotalCalls != 0 || ins.AverageScore != 0 || len(ins.BandCounts) != 0 {
		t.Fatalf("ins = %+v", ins)
	}
}
