package actionable

import (
	"fmt"

	"voice-qa-go/internal/types"
)

// CoachingThreshold is the score at or below which a criterion needs coaching.
const CoachingThreshold = 2

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

// Band labels an overall score for display.
func Band(score float64) string {
	switch {
	case score >= 4:
		return "Excellent"
	case score >= 3:
		return "Good"
	case score >= 2:
		return "Fair"
	default:
		return "Poor"
	}
}

// Generate turns the weakest criterion of a grading result into a coaching
// card. Ties go to the earlier criterion.
func Generate(res types.GradingResult) ActionCard {
	if len(res.Grades) == 0 {
		return ActionCard{
			Insight: "Call was not graded",
			Action:  "Upload a scorecard to grade this call",
			Impact:  "No coaching signal available",
		}
	}
	worst := res.Grades[0]
	for _, g := range res.Grades[1:] {
		if g.Score < worst.Score {
			worst = g
		}
	}
	if worst.Score <= CoachingThreshold {
		return ActionCard{
			Insight: fmt.Sprintf("Weakest criterion: %s (%d/5)", worst.Criterion, worst.Score),
			Action:  fmt.Sprintf("Coach the agent on %q: %s", worst.Criterion, worst.Reasoning),
			Impact:  fmt.Sprintf("Overall %.1f/5 (%s); fixing this criterion raises the call average", res.OverallScore, Band(res.OverallScore)),
		}
	}
	return ActionCard{
		Insight: fmt.Sprintf("All criteria scored above %d", CoachingThreshold),
		Action:  "No coaching required; share as a reference call",
		Impact:  fmt.Sprintf("Overall %.1f/5 (%s)", res.OverallScore, Band(res.OverallScore)),
	}
}
