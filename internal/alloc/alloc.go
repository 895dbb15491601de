package alloc

import "math"

// AmountDue returns the share owed by the participant at the given 0-based order.
// With a decay ratio other than 1 the shares form a geometric sequence that sums
// to totalAmount, the first share being the largest. Otherwise the total is split
// equally with floor division.
func AmountDue(order, totalParticipants int, totalAmount int64, decayRatio float64) int64 {
	if totalParticipants <= 0 || decayRatio == 1 {
		return totalAmount / int64(max(totalParticipants, 1))
	}

	first := FirstShare(totalParticipants, totalAmount, decayRatio)
	return int64(math.Floor(first*math.Pow(decayRatio, float64(order)) + 0.5))
}

// FirstShare is the unrounded first term of the geometric schedule.
func FirstShare(totalParticipants int, totalAmount int64, decayRatio float64) float64 {
	if totalParticipants <= 0 || decayRatio == 1 {
		return float64(totalAmount) / float64(max(totalParticipants, 1))
	}
	return float64(totalAmount) * (1 - decayRatio) / (1 - math.Pow(decayRatio, float64(totalParticipants)))
}

// Schedule returns the amount for every order in 0..totalParticipants-1.
func Schedule(totalParticipants int, totalAmount int64, decayRatio float64) []int64 {
	if totalParticipants <= 0 {
		return nil
	}
	out := make([]int64, totalParticipants)
	for i := range out {
		out[i] = AmountDue(i, totalParticipants, totalAmount, decayRatio)
	}
	return out
}

// DecayPercent is the per-step change in percent, rounded to two decimals.
// A ratio of 0.95 yields -5.
func DecayPercent(decayRatio float64) float64 {
	return math.Round((decayRatio-1)*100*100) / 100
}
