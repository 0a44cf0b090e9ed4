package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expertflow/admin"
	"expertflow/apperr"
	"expertflow/auth"
	"expertflow/bid"
	"expertflow/contract"
	"expertflow/deliverable"
	"expertflow/metrics"
	"expertflow/payout"
	"expertflow/provider"
	"expertflow/request"
)

var (
	requesterID = auth.Identity{UserID: "req-1", Role: auth.RoleRequester}
	providerID  = auth.Identity{UserID: "prov-1", Role: auth.RoleProvider}
	adminID     = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
	created     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type stubAuth struct {
	AuthService
	loginErr error
}

func (s *stubAuth) VerifyToken(token string) (auth.Identity, error) {
	switch token {
	case "requester":
		return requesterID, nil
	case "provider":
		return providerID, nil
	case "admin":
		return adminID, nil
	}
	return auth.Identity{}, auth.ErrInvalidToken
}

func (s *stubAuth) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	return auth.LoginResult{}, s.loginErr
}

type stubRequests struct {
	RequestService
	created request.CreateParams
	caller  auth.Identity
	err     error
	filters request.Filters
}

func (s *stubRequests) Create(_ context.Context, caller auth.Identity, params request.CreateParams) (request.Request, error) {
	s.caller, s.created = caller, params
	if s.err != nil {
		return request.Request{}, s.err
	}
	return request.Request{
		ID: "r1", OwnerID: caller.UserID, Title: params.Title, DueAt: params.DueAt,
		PriceMin: params.PriceMin, PriceMax: params.PriceMax, Status: request.StatusOpen, CreatedAt: created, UpdatedAt: created,
	}, nil
}

func (s *stubRequests) ListOpen(_ context.Context, f request.Filters) (request.ListResult, error) {
	s.filters = f
	return request.ListResult{Items: []request.Request{{ID: "r2"}, {ID: "r1"}}, Total: 7}, nil
}

func (s *stubRequests) Edit(context.Context, string, auth.Identity, request.Patch) (request.Request, error) {
	return request.Request{}, s.err
}

type stubBids struct {
	BidService
	acceptErr error
}

func (s *stubBids) Accept(_ context.Context, bidID string, _ auth.Identity) (bid.AcceptResult, error) {
	if s.acceptErr != nil {
		return bid.AcceptResult{}, s.acceptErr
	}
	return bid.AcceptResult{
		Contract: contract.Contract{ID: "c1", BidID: bidID, AgreedPrice: decimal.RequireFromString("60"), Status: contract.StatusInProgress},
		Bid:      bid.Bid{ID: bidID, Price: decimal.RequireFromString("60"), Status: bid.StatusAccepted},
		Rejected: 1,
	}, nil
}

type stubDeliverables struct {
	DeliverableService
	uploaded []byte
	kind     deliverable.Kind
	file     deliverable.File
	body     string
	url      string
	err      error
}

func (s *stubDeliverables) Upload(_ context.Context, contractID string, _ auth.Identity, kind deliverable.Kind, f deliverable.File) (deliverable.Deliverable, error) {
	if s.err != nil {
		return deliverable.Deliverable{}, s.err
	}
	data, err := io.ReadAll(f.Body)
	if err != nil {
		return deliverable.Deliverable{}, err
	}
	s.uploaded, s.kind, s.file = data, kind, f
	return deliverable.Deliverable{ID: "d1", ContractID: contractID, Kind: kind, OriginalName: f.Name, MediaType: f.MediaType, SizeBytes: f.Size, CreatedAt: created}, nil
}

func (s *stubDeliverables) Download(context.Context, string, auth.Identity, time.Duration) (deliverable.Deliverable, string, io.ReadCloser, error) {
	if s.err != nil {
		return deliverable.Deliverable{}, "", nil, s.err
	}
	d := deliverable.Deliverable{ID: "d1", OriginalName: "report.pdf", MediaType: "application/pdf", SizeBytes: int64(len(s.body))}
	if s.url != "" {
		return d, s.url, nil, nil
	}
	return d, "", io.NopCloser(strings.NewReader(s.body)), nil
}

type stubPayouts struct {
	PayoutService
	params payout.RequestParams
}

func (s *stubPayouts) Request(_ context.Context, caller auth.Identity, params payout.RequestParams) (payout.Payout, error) {
	s.params = params
	return payout.Payout{ID: "p1", ProviderID: caller.UserID, Amount: params.Amount, Currency: "USD", Status: payout.StatusPending}, nil
}

func newTestServer(svc Services) http.Handler {
	if svc.Auth == nil {
		svc.Auth = &stubAuth{}
	}
	return New(svc, nil, nil, Options{}).Routes()
}

func do(t *testing.T, h http.Handler, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(Services{}), http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthentication(t *testing.T) {
	h := newTestServer(Services{Requests: &stubRequests{}})

	rec := do(t, h, http.MethodGet, "/api/requests/open", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, rec).Error.Code)

	rec = do(t, h, http.MethodGet, "/api/requests/open", "forged", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/requests/open", "provider", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newTestServer(Services{Auth: &stubAuth{loginErr: auth.ErrInvalidCredentials}})

	rec := do(t, h, http.MethodPost, "/api/auth/login", "", strings.NewReader(`{"email":"a@example.com","password":"nope"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRequest(t *testing.T) {
	stub := &stubRequests{}
	h := newTestServer(Services{Requests: stub})

	body := `{"title":"Thesis review","description":"Chapter 2","category":"writing","difficulty":"masters",
		"dueAt":"2026-03-08T12:00:00Z","priceMin":40,"priceMax":"80"}`
	rec := do(t, h, http.MethodPost, "/api/requests", "requester", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, requesterID, stub.caller)
	assert.True(t, stub.created.PriceMin.Equal(decimal.RequireFromString("40")))
	assert.True(t, stub.created.PriceMax.Equal(decimal.RequireFromString("80")))
	assert.Equal(t, time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC), stub.created.DueAt)

	var resp requestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, "OPEN", resp.Status)
	require.NotNil(t, resp.PriceMin)
	assert.Equal(t, "40.00", *resp.PriceMin)
	assert.Equal(t, "2026-03-01T12:00:00Z", resp.CreatedAt)
}

func TestCreateRequest_UnknownField(t *testing.T) {
	h := newTestServer(Services{Requests: &stubRequests{}})

	rec := do(t, h, http.MethodPost, "/api/requests", "requester", strings.NewReader(`{"budget":10}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeError(t, rec).Error.Code)
}

func TestListOpenRequests_Filters(t *testing.T) {
	stub := &stubRequests{}
	h := newTestServer(Services{Requests: stub})

	rec := do(t, h, http.MethodGet, "/api/requests/open?page=2&pageSize=5&category=math&sort=dueAt&order=asc", "provider", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, request.Filters{Category: "math", Page: 2, PageSize: 5, SortKey: "dueAt", SortOrder: "asc"}, stub.filters)

	var payload listResponse[requestResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 7, payload.Total)
	assert.Len(t, payload.Items, 2)

	rec = do(t, h, http.MethodGet, "/api/requests/open?page=x", "provider", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
		kind string
	}{
		{apperr.Validation("bad"), http.StatusBadRequest, "validation"},
		{request.ErrNotOwner, http.StatusForbidden, "authorization"},
		{request.ErrNotFound, http.StatusNotFound, "not_found"},
		{request.ErrLocked, http.StatusConflict, "conflict"},
		{apperr.DeadlineExpired("late"), http.StatusUnprocessableEntity, "deadline_expired"},
		{errors.New("pq: connection reset"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			h := newTestServer(Services{Requests: &stubRequests{err: tc.err}})
			rec := do(t, h, http.MethodPatch, "/api/requests/r1", "requester", strings.NewReader(`{"title":"x"}`), "application/json")

			assert.Equal(t, tc.code, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tc.kind, body.Error.Code)
			assert.NotEmpty(t, body.RequestID)
			if tc.kind == "internal" {
				assert.Equal(t, "internal error", body.Error.Message)
			}
		})
	}
}

func TestAcceptBid(t *testing.T) {
	h := newTestServer(Services{Bids: &stubBids{}})

	rec := do(t, h, http.MethodPost, "/api/bids/b1/accept", "requester", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp acceptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.Contract.ID)
	assert.Equal(t, "60.00", resp.Contract.AgreedPrice)
	assert.Equal(t, "ACCEPTED", resp.Bid.Status)
	assert.EqualValues(t, 1, resp.Rejected)

	h = newTestServer(Services{Bids: &stubBids{acceptErr: request.ErrAlreadyCommitted}})
	rec = do(t, h, http.MethodPost, "/api/bids/b2/accept", "requester", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUploadDeliverable(t *testing.T) {
	stub := &stubDeliverables{}
	h := newTestServer(Services{Deliverables: stub})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("kind", "draft"))
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="file"; filename="essay.pdf"`},
		"Content-Type":        {"application/pdf; charset=binary"},
	})
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF-1.7"))
	require.NoError(t, mw.Close())

	rec := do(t, h, http.MethodPost, "/api/contracts/c1/deliverables", "provider", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, "%PDF-1.7", string(stub.uploaded))
	assert.Equal(t, deliverable.KindDraft, stub.kind)
	assert.Equal(t, "application/pdf", stub.file.MediaType)
	assert.Equal(t, "essay.pdf", stub.file.Name)
	assert.EqualValues(t, 8, stub.file.Size)

	rec = do(t, h, http.MethodPost, "/api/contracts/c1/deliverables", "provider", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadDeliverable(t *testing.T) {
	h := newTestServer(Services{Deliverables: &stubDeliverables{body: "%PDF-data"}})
	rec := do(t, h, http.MethodGet, "/api/deliverables/d1/download", "provider", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename=report.pdf`)
	assert.Equal(t, "%PDF-data", rec.Body.String())

	h = newTestServer(Services{Deliverables: &stubDeliverables{url: "https://minio.local/signed"}})
	rec = do(t, h, http.MethodGet, "/api/deliverables/d1/download", "provider", nil, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://minio.local/signed", rec.Header().Get("Location"))

	h = newTestServer(Services{Deliverables: &stubDeliverables{err: deliverable.ErrForbidden}})
	rec = do(t, h, http.MethodGet, "/api/deliverables/d1/download", "requester", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestPayout(t *testing.T) {
	stub := &stubPayouts{}
	h := newTestServer(Services{Payouts: stub})

	rec := do(t, h, http.MethodPost, "/api/payouts", "provider",
		strings.NewReader(`{"amount":"25.50","method":"bank","accountDetails":"DE89"}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, stub.params.Amount.Equal(decimal.RequireFromString("25.5")))
	assert.Equal(t, "DE89", stub.params.Destination)

	var resp payoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "25.50", resp.Amount)
	assert.Equal(t, "PENDING", resp.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	h := New(Services{Auth: &stubAuth{}}, nil, metrics.New(), Options{}).Routes()

	do(t, h, http.MethodGet, "/health", "", nil, "")
	rec := do(t, h, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/health"`)
}

func TestMalformedIDIsNotFound(t *testing.T) {
	malformed := fmt.Errorf("deliverable: get: %w", &pgconn.PgError{Code: "22P02"})
	h := newTestServer(Services{Deliverables: &stubDeliverables{err: malformed}})

	rec := do(t, h, http.MethodGet, "/api/deliverables/not-a-uuid/download", "provider", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Error.Code)
	assert.Contains(t, body.Error.Message, "not-a-uuid")
}

type stubContracts struct {
	ContractService
	posted string
	items  []contract.Contract
}

func (s *stubContracts) ListMine(context.Context, auth.Identity) ([]contract.Contract, error) {
	return s.items, nil
}

func (s *stubContracts) Messages(_ context.Context, id string, caller auth.Identity) ([]contract.Message, error) {
	if caller.UserID == adminID.UserID || caller.UserID == requesterID.UserID {
		return []contract.Message{{ID: "m1", ContractID: id, SenderID: requesterID.UserID, Body: "hello", CreatedAt: created}}, nil
	}
	return nil, contract.ErrForbidden
}

func (s *stubContracts) PostMessage(_ context.Context, id string, caller auth.Identity, body string) (contract.Message, error) {
	s.posted = body
	return contract.Message{ID: "m2", ContractID: id, SenderID: caller.UserID, Body: body, CreatedAt: created}, nil
}

func TestContractMessages(t *testing.T) {
	stub := &stubContracts{}
	h := newTestServer(Services{Contracts: stub})

	rec := do(t, h, http.MethodPost, "/api/contracts/c1/messages", "requester", strings.NewReader(`{"body":"Any update?"}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Any update?", stub.posted)

	var msg messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "c1", msg.ContractID)
	assert.Equal(t, requesterID.UserID, msg.SenderID)

	rec = do(t, h, http.MethodGet, "/api/contracts/c1/messages", "requester", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var thread listResponse[messageResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))
	assert.Equal(t, 1, thread.Total)

	rec = do(t, h, http.MethodGet, "/api/contracts/c1/messages", "provider", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type stubProviders struct {
	ProviderService
	decision provider.VerificationStatus
	note     string
}

func (s *stubProviders) RequestVerification(_ context.Context, caller auth.Identity, message string) (provider.Profile, error) {
	at := created
	return provider.Profile{UserID: caller.UserID, Verification: provider.Verification{
		Status: provider.VerificationPending, Message: message, RequestedAt: &at,
	}}, nil
}

func (s *stubProviders) AdminListPending(_ context.Context, caller auth.Identity) ([]provider.Profile, error) {
	if !caller.IsAdmin() {
		return nil, provider.ErrAdminOnly
	}
	return []provider.Profile{{UserID: providerID.UserID, Verification: provider.Verification{Status: provider.VerificationPending}}}, nil
}

func (s *stubProviders) AdminSetVerification(_ context.Context, _ auth.Identity, id string, decision provider.VerificationStatus, note string) (provider.Profile, error) {
	s.decision, s.note = decision, note
	return provider.Profile{UserID: id, Verified: true, Verification: provider.Verification{Status: provider.VerificationApproved, AdminNote: note}}, nil
}

func TestProviderVerification(t *testing.T) {
	stub := &stubProviders{}
	h := newTestServer(Services{Providers: stub})

	rec := do(t, h, http.MethodPost, "/api/providers/me/verification", "provider", strings.NewReader(`{"message":"see my thesis"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pending verificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Equal(t, "PENDING", pending.VerificationStatus)
	assert.Equal(t, "see my thesis", pending.Message)
	require.NotNil(t, pending.RequestedAt)

	rec = do(t, h, http.MethodGet, "/api/admin/providers/verification", "provider", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/admin/providers/verification", "admin", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/admin/providers/prov-1/verification", "admin", strings.NewReader(`{"status":""}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/admin/providers/prov-1/verification", "admin",
		strings.NewReader(`{"status":"VERIFIED","adminNote":"checked"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, provider.VerificationApproved, stub.decision)
	assert.Equal(t, "checked", stub.note)
	var decided verificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decided))
	assert.True(t, decided.Verified)
}

type stubAdmin struct {
	filter admin.UserFilter
}

func (s *stubAdmin) Stats(_ context.Context, caller auth.Identity) (admin.Stats, error) {
	if !caller.IsAdmin() {
		return admin.Stats{}, admin.ErrAdminOnly
	}
	return admin.Stats{
		UsersByRole:      map[auth.Role]int64{auth.RoleProvider: 2},
		RequestsByStatus: map[string]int64{"OPEN": 1},
		Money:            admin.Money{CompletedVolume: decimal.NewFromInt(60), AverageRating: 4.5},
		Backlog:          admin.Backlog{PayoutsPending: 1, PayoutsPendingAmount: decimal.RequireFromString("12.5")},
		GeneratedAt:      created,
	}, nil
}

func (s *stubAdmin) ListUsers(_ context.Context, _ auth.Identity, filter admin.UserFilter) ([]admin.User, error) {
	s.filter = filter
	return []admin.User{{ID: "u1", Email: "a@example.com", Role: auth.RoleProvider, CreatedAt: created}}, nil
}

func TestAdminOverview(t *testing.T) {
	stub := &stubAdmin{}
	contracts := &stubContracts{items: []contract.Contract{
		{ID: "c1", Status: contract.StatusCompleted, AgreedPrice: decimal.NewFromInt(60)},
		{ID: "c2", Status: contract.StatusInProgress, AgreedPrice: decimal.NewFromInt(40)},
	}}
	h := newTestServer(Services{Admin: stub, Contracts: contracts})

	rec := do(t, h, http.MethodGet, "/api/admin/stats", "requester", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/admin/stats", "admin", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var st statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(2), st.Users["provider"])
	assert.Equal(t, "60.00", st.Money.CompletedVolume)
	assert.Equal(t, "12.50", st.Backlog.PayoutsPendingAmount)

	rec = do(t, h, http.MethodGet, "/api/admin/users?role=Provider&limit=5", "admin", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, admin.UserFilter{Role: auth.RoleProvider, Limit: 5}, stub.filter)
	rec = do(t, h, http.MethodGet, "/api/admin/users?limit=0", "admin", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/admin/contracts", "requester", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/admin/contracts?status=completed", "admin", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse[contractResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "c1", list.Items[0].ID)
}
