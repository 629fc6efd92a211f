package usecase

import (
	"sort"

	"Rewind/internal/domain/models"
)

// Aggregate combines successful replica decisions of one interval.
// The label is the majority vote with ties going to NO. Confidence is the mean
// among replicas agreeing with the winning label, or over all replicas when
// that set is empty. Confidences are summed in sorted order so the result
// does not depend on the order replicas finished in.
// Callers must not pass an empty slice.
func Aggregate(decisions []models.ReplicaDecision) models.AggregatedDecision {
	var yes, no []float64
	for _, d := range decisions {
		if d.Decision == models.DecisionYes {
			yes = append(yes, d.Confidence)
		} else {
			no = append(no, d.Confidence)
		}
	}

	out := models.AggregatedDecision{
		Decision: models.DecisionNo,
		YesVotes: len(yes),
		NoVotes:  len(no),
	}
	winners := no
	if len(yes) > len(no) {
		out.Decision = models.DecisionYes
		winners = yes
	}
	if len(winners) == 0 {
		winners = append(append([]float64{}, yes...), no...)
	}
	out.Confidence = mean(winners)
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	var sum float64
	for _, x := range sorted {
		sum += x
	}
	return sum / float64(len(sorted))
}

// MarkBreakingPoints flags timeline entries whose label differs from the
// previous entry and returns their indices. The timeline must be ordered.
func MarkBreakingPoints(timeline []models.IntervalResult) []int {
	var points []int
	for i := 1; i < len(timeline); i++ {
		if timeline[i].Aggregated.Decision != timeline[i-1].Aggregated.Decision {
			timeline[i].BreakingPoint = true
			points = append(points, timeline[i].Index)
		}
	}
	return points
}
