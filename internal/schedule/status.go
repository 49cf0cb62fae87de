package schedule

// Schedule lifecycle states. DELAYED is re-enterable: a delayed schedule may
// be delayed again.
const (
	StatusScheduled  = "SCHEDULED"
	StatusDelayed    = "DELAYED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
)

// Terminal reports whether a schedule in the given status accepts no further
// mutation.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

var transitions = map[string][]string{
	StatusScheduled:  {StatusDelayed, StatusInProgress, StatusCancelled},
	StatusDelayed:    {StatusDelayed, StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusDelayed, StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
