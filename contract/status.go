package contract

import (
	"expertflow/apperr"
	"expertflow/auth"
)

// Event is something that moves a contract between statuses.
type Event string

const (
	EventDeliverableSubmitted Event = "DELIVERABLE_SUBMITTED"
	EventDeliverableVerified  Event = "DELIVERABLE_VERIFIED"
	EventReturnedForRevision  Event = "RETURNED_FOR_REVISION"
	EventRequesterCompleted   Event = "REQUESTER_COMPLETED"
)

// Next returns the status a contract in from moves to on ev.
//
//	IN_PROGRESS, RETURNED, AWAITING_REVIEW --submitted--> AWAITING_REVIEW
//	anything                               --verified---> COMPLETED
//	IN_PROGRESS, AWAITING_REVIEW           --returned---> RETURNED
//	anything                               --completed--> COMPLETED
func Next(from Status, ev Event) (Status, error) {
	switch ev {
	case EventDeliverableSubmitted:
		switch from {
		case StatusInProgress, StatusReturned, StatusAwaitingReview:
			return StatusAwaitingReview, nil
		}
	case EventDeliverableVerified, EventRequesterCompleted:
		return StatusCompleted, nil
	case EventReturnedForRevision:
		switch from {
		case StatusInProgress, StatusAwaitingReview:
			return StatusReturned, nil
		}
	}
	return "", apperr.Conflict("contract: cannot apply %s to a %s contract", ev, from)
}

// CanView reports whether caller may read c: its two parties and admins.
func CanView(c Contract, caller auth.Identity) bool {
	return caller.IsAdmin() || c.RequesterID == caller.UserID || c.ProviderID == caller.UserID
}

// CanComplete reports whether caller may complete and rate c.
func CanComplete(c Contract, caller auth.Identity) bool {
	return caller.UserID != "" && c.RequesterID == caller.UserID
}
