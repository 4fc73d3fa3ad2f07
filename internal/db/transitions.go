package db

// allowedTransitions is the decision status state machine.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusAutoExecuted, StatusQueued},
	StatusQueued:    {StatusApproved, StatusRejected, StatusEscalated},
	StatusEscalated: {StatusApproved, StatusRejected, StatusEscalated, StatusExpired},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an InvalidTransitionError when from -> to is illegal.
func CheckTransition(decisionID string, from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &InvalidTransitionError{DecisionID: decisionID, From: from, To: to}
}
