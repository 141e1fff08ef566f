package queue

const (
	MinETAMinutes = 5

	// urgentRank and below get a shorter estimate.
	urgentRank       = 2
	urgentAdjustment = 5
)

// EstimateMinutes is the deterministic wait estimate for a patient with the
// given rank and number of patients ahead. Never below MinETAMinutes.
func EstimateMinutes(waiting, averageWaitMinutes, rank int) int {
	adj := 0
	if rank <= urgentRank {
		adj = urgentAdjustment
	}
	eta := (waiting*averageWaitMinutes)/2 - adj
	if eta < MinETAMinutes {
		return MinETAMinutes
	}
	return eta
}
