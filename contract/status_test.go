package contract

import (
	"errors"
	"testing"

	"expertflow/apperr"
	"expertflow/auth"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from    Status
		ev      Event
		want    Status
		wantErr bool
	}{
		{StatusInProgress, EventDeliverableSubmitted, StatusAwaitingReview, false},
		{StatusReturned, EventDeliverableSubmitted, StatusAwaitingReview, false},
		{StatusAwaitingReview, EventDeliverableSubmitted, StatusAwaitingReview, false},
		{StatusCompleted, EventDeliverableSubmitted, "", true},

		{StatusInProgress, EventDeliverableVerified, StatusCompleted, false},
		{StatusAwaitingReview, EventDeliverableVerified, StatusCompleted, false},
		{StatusReturned, EventDeliverableVerified, StatusCompleted, false},
		{StatusCompleted, EventDeliverableVerified, StatusCompleted, false},

		{StatusInProgress, EventReturnedForRevision, StatusReturned, false},
		{StatusAwaitingReview, EventReturnedForRevision, StatusReturned, false},
		{StatusReturned, EventReturnedForRevision, "", true},
		{StatusCompleted, EventReturnedForRevision, "", true},

		{StatusInProgress, EventRequesterCompleted, StatusCompleted, false},
		{StatusCompleted, EventRequesterCompleted, StatusCompleted, false},

		{StatusInProgress, Event("BOGUS"), "", true},
	}

	for _, tt := range tests {
		got, err := Next(tt.from, tt.ev)
		if tt.wantErr {
			if !errors.Is(err, apperr.ErrConflict) {
				t.Errorf("Next(%s, %s): expected conflict, got %v", tt.from, tt.ev, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Next(%s, %s): unexpected error %v", tt.from, tt.ev, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tt.from, tt.ev, got, tt.want)
		}
	}
}

func TestCanView(t *testing.T) {
	c := Contract{RequesterID: "a", ProviderID: "p"}

	if !CanView(c, auth.Identity{UserID: "a", Role: auth.RoleRequester}) {
		t.Error("requester should see own contract")
	}
	if !CanView(c, auth.Identity{UserID: "p", Role: auth.RoleProvider}) {
		t.Error("provider should see own contract")
	}
	if !CanView(c, auth.Identity{UserID: "root", Role: auth.RoleAdmin}) {
		t.Error("admin should see every contract")
	}
	if CanView(c, auth.Identity{UserID: "x", Role: auth.RoleProvider}) {
		t.Error("stranger must not see contract")
	}
	if CanComplete(c, auth.Identity{UserID: "p", Role: auth.RoleProvider}) {
		t.Error("provider must not complete")
	}
}
