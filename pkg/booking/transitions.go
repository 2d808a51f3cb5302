package booking

// transitionTable lists every legal target per source status. Terminal states map to nothing.
var transitionTable = map[Status][]Status{
	StatusPendingTeacherApproval: {StatusWaitingForPayment, StatusRejectedByTeacher, StatusExpired, StatusCancelledByParent, StatusCancelledByAdmin},
	StatusWaitingForPayment:      {StatusScheduled, StatusCancelledByParent, StatusCancelledByAdmin},
	StatusScheduled:              {StatusPendingConfirmation, StatusCancelledByParent, StatusCancelledByAdmin},
	StatusPendingConfirmation:    {StatusCompleted, StatusDisputed, StatusCancelledByAdmin},
	StatusDisputed:               {StatusCompleted, StatusRefunded, StatusPartiallyRefunded, StatusCancelledByAdmin},
	StatusPartiallyRefunded:      {StatusCancelledByAdmin},
	StatusCompleted:              nil,
	StatusRejectedByTeacher:      nil,
	StatusRefunded:               nil,
	StatusCancelledByParent:      nil,
	StatusCancelledByAdmin:       nil,
	StatusExpired:                nil,
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from Status, to Status) bool {
	for _, target := range transitionTable[from] {
		if target == to {
			return true
		}
	}
	return false
}
