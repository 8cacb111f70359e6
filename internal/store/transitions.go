package store

import "meditoken/internal/models"

var transitionMap = map[string][]string{
	"call_next": {models.StatusWaiting},
	"complete":  {models.StatusInProgress},
	"cancel":    {models.StatusWaiting},
}

var actionForStatus = map[string]string{
	models.StatusInProgress: "call_next",
	models.StatusCompleted:  "complete",
	models.StatusCancelled:  "cancel",
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// ActionFor returns the transition that moves a token into toStatus.
// WAITING is never a target.
func ActionFor(toStatus string) (string, bool) {
	action, ok := actionForStatus[toStatus]
	return action, ok
}

// ValidStatusChange reports whether a token may move from one status to another.
func ValidStatusChange(fromStatus, toStatus string) bool {
	action, ok := ActionFor(toStatus)
	if !ok {
		return false
	}
	return ValidTransition(action, fromStatus)
}

func EventTypeFor(toStatus string) string {
	switch toStatus {
	case models.StatusInProgress:
		return "token.called"
	case models.StatusCompleted:
		return "token.completed"
	case models.StatusCancelled:
		return "token.cancelled"
	default:
		return "token.updated"
	}
}
