package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"expertflow/apperr"
	"expertflow/auth"
	"expertflow/db/dbtest"
)

var (
	prov  = auth.Identity{UserID: "p1", Role: auth.RoleProvider}
	admin = auth.Identity{UserID: "admin", Role: auth.RoleAdmin}
)

type memStore struct {
	profiles map[string]Profile
}

func (m *memStore) GetByID(_ context.Context, id string) (Profile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *memStore) List(_ context.Context, limit int) ([]Profile, error) {
	out := []Profile{}
	for _, p := range m.profiles {
		if len(out) == limit {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) ListByVerification(_ context.Context, status VerificationStatus) ([]Profile, error) {
	out := []Profile{}
	for _, p := range m.profiles {
		if p.Verification.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) Upsert(_ context.Context, userID string, params UpdateParams) error {
	p := m.profiles[userID]
	p.UserID = userID
	p.Headline = params.Headline
	p.Bio = params.Bio
	p.Subjects = params.Subjects
	p.Languages = params.Languages
	if p.Verification.Status == VerificationApproved {
		p.Verification.Status = VerificationNone
	}
	p.Verified = false
	m.profiles[userID] = p
	return nil
}

func (m *memStore) MarkPending(_ context.Context, _ pgx.Tx, userID, message string) (bool, error) {
	p := m.profiles[userID]
	if p.Verification.Status == VerificationApproved {
		return false, nil
	}
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p.UserID = userID
	p.Verification = Verification{Status: VerificationPending, Message: message, RequestedAt: &at}
	m.profiles[userID] = p
	return true, nil
}

func (m *memStore) Decide(_ context.Context, _ pgx.Tx, userID string, status VerificationStatus, note string) (bool, error) {
	p, ok := m.profiles[userID]
	if !ok || p.Verification.Status != VerificationPending {
		return false, nil
	}
	p.Verification.Status = status
	p.Verification.AdminNote = note
	p.Verified = status == VerificationApproved
	m.profiles[userID] = p
	return true, nil
}

type recordingOutbox struct {
	payloads []map[string]any
}

func (r *recordingOutbox) Enqueue(_ context.Context, _ pgx.Tx, _ string, payload map[string]any) error {
	r.payloads = append(r.payloads, payload)
	return nil
}

func newService() (*Service, *memStore, *dbtest.Pool, *recordingOutbox) {
	store := &memStore{profiles: map[string]Profile{}}
	pool := &dbtest.Pool{}
	out := &recordingOutbox{}
	return NewService(pool, store, out), store, pool, out
}

func TestService_UpdateMine(t *testing.T) {
	svc, _, _, _ := newService()

	got, err := svc.UpdateMine(context.Background(), prov, UpdateParams{
		Headline: "  Statistics tutor ",
		Subjects: []string{"Math", "math", " ", "Physics"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Headline != "Statistics tutor" {
		t.Fatalf("expected trimmed headline, got %q", got.Headline)
	}
	if len(got.Subjects) != 2 || got.Subjects[0] != "Math" || got.Subjects[1] != "Physics" {
		t.Fatalf("expected deduplicated subjects, got %v", got.Subjects)
	}
}

func TestService_UpdateMineRejectsRequester(t *testing.T) {
	svc, _, _, _ := newService()

	_, err := svc.UpdateMine(context.Background(), auth.Identity{UserID: "r1", Role: auth.RoleRequester}, UpdateParams{})
	if !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestService_GetByIDNotFound(t *testing.T) {
	svc, _, _, _ := newService()

	if _, err := svc.GetByID(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_VerificationRoundTrip(t *testing.T) {
	svc, store, pool, out := newService()
	ctx := context.Background()

	got, err := svc.RequestVerification(ctx, prov, "  PhD in statistics ")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got.Verification.Status != VerificationPending || got.Verification.Message != "PhD in statistics" {
		t.Fatalf("unexpected verification %+v", got.Verification)
	}

	if _, err := svc.AdminListPending(ctx, prov); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected admin-only listing, got %v", err)
	}
	pending, err := svc.AdminListPending(ctx, admin)
	if err != nil || len(pending) != 1 || pending[0].UserID != prov.UserID {
		t.Fatalf("expected one pending provider, got %v %v", pending, err)
	}

	got, err = svc.AdminSetVerification(ctx, admin, prov.UserID, "verified", " looks good ")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !got.Verified || got.Verification.Status != VerificationApproved || got.Verification.AdminNote != "looks good" {
		t.Fatalf("unexpected profile %+v", got)
	}
	if pool.Committed() != 2 || len(out.payloads) != 2 || out.payloads[1]["status"] != "VERIFIED" {
		t.Fatalf("expected two committed notifications, got commits=%d payloads=%v", pool.Committed(), out.payloads)
	}

	if _, err := svc.RequestVerification(ctx, prov, ""); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected conflict for verified profile, got %v", err)
	}
	if !pool.Last().RolledBack {
		t.Fatal("refused request must roll back")
	}

	// Editing the profile drops the badge.
	got, err = svc.UpdateMine(ctx, prov, UpdateParams{Headline: "Now also physics"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Verified || store.profiles[prov.UserID].Verification.Status != VerificationNone {
		t.Fatalf("edit must reset verification, got %+v", got)
	}
}

func TestService_AdminSetVerificationErrors(t *testing.T) {
	svc, store, _, out := newService()
	ctx := context.Background()
	store.profiles["p2"] = Profile{UserID: "p2", Verification: Verification{Status: VerificationNone}}

	if _, err := svc.AdminSetVerification(ctx, prov, "p2", VerificationApproved, ""); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected admin-only, got %v", err)
	}
	if _, err := svc.AdminSetVerification(ctx, admin, "p2", VerificationPending, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for non-decision, got %v", err)
	}
	if _, err := svc.AdminSetVerification(ctx, admin, "p2", VerificationRejected, ""); !errors.Is(err, ErrNothingToDecide) {
		t.Fatalf("expected conflict without a pending request, got %v", err)
	}
	if _, err := svc.AdminSetVerification(ctx, admin, "ghost", VerificationRejected, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.RequestVerification(ctx, admin, ""); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected providers only, got %v", err)
	}
	if len(out.payloads) != 0 {
		t.Fatalf("failed decisions must not notify, got %v", out.payloads)
	}
}
