// Package httpapi exposes the lifecycle services over JSON/HTTP.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"expertflow/admin"
	"expertflow/auth"
	"expertflow/bid"
	"expertflow/contract"
	"expertflow/deliverable"
	"expertflow/logging"
	"expertflow/metrics"
	"expertflow/payout"
	"expertflow/provider"
	"expertflow/request"
)

type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type RequestService interface {
	Create(ctx context.Context, caller auth.Identity, params request.CreateParams) (request.Request, error)
	Get(ctx context.Context, id string) (request.Request, error)
	ListOpen(ctx context.Context, filters request.Filters) (request.ListResult, error)
	ListMine(ctx context.Context, caller auth.Identity, filters request.Filters) (request.ListResult, error)
	Edit(ctx context.Context, id string, caller auth.Identity, patch request.Patch) (request.Request, error)
}

type BidService interface {
	Submit(ctx context.Context, caller auth.Identity, params bid.SubmitParams) (bid.Bid, error)
	ListForRequest(ctx context.Context, requestID string) ([]bid.Listing, error)
	Accept(ctx context.Context, bidID string, caller auth.Identity) (bid.AcceptResult, error)
}

type ContractService interface {
	ListMine(ctx context.Context, caller auth.Identity) ([]contract.Contract, error)
	Get(ctx context.Context, id string, caller auth.Identity) (contract.Contract, error)
	Complete(ctx context.Context, id string, caller auth.Identity, rating int, comment string) (contract.Contract, contract.Review, error)
	ReturnForRevision(ctx context.Context, id string, caller auth.Identity, reason string) (contract.Contract, error)
	Events(ctx context.Context, id string, caller auth.Identity) ([]contract.TimelineEvent, error)
	ReviewsForProvider(ctx context.Context, providerID string) ([]contract.Review, error)
	Messages(ctx context.Context, id string, caller auth.Identity) ([]contract.Message, error)
	PostMessage(ctx context.Context, id string, caller auth.Identity, body string) (contract.Message, error)
}

type DeliverableService interface {
	Upload(ctx context.Context, contractID string, caller auth.Identity, kind deliverable.Kind, f deliverable.File) (deliverable.Deliverable, error)
	ListFor(ctx context.Context, contractID string, caller auth.Identity) ([]deliverable.Deliverable, error)
	Verify(ctx context.Context, deliverableID string, caller auth.Identity) (deliverable.Deliverable, error)
	AdminContractView(ctx context.Context, contractID string, caller auth.Identity) (deliverable.ContractView, error)
	Download(ctx context.Context, deliverableID string, caller auth.Identity, ttl time.Duration) (deliverable.Deliverable, string, io.ReadCloser, error)
}

type PayoutService interface {
	Summary(ctx context.Context, caller auth.Identity) (payout.Summary, error)
	Request(ctx context.Context, caller auth.Identity, params payout.RequestParams) (payout.Payout, error)
	ListMine(ctx context.Context, caller auth.Identity) ([]payout.Payout, error)
	AdminList(ctx context.Context, caller auth.Identity, status payout.Status) ([]payout.Payout, error)
	UpdateStatus(ctx context.Context, id string, caller auth.Identity, status payout.Status) (payout.Payout, error)
}

type ProviderService interface {
	GetByID(ctx context.Context, id string) (provider.Profile, error)
	List(ctx context.Context, limit int) ([]provider.Profile, error)
	UpdateMine(ctx context.Context, caller auth.Identity, params provider.UpdateParams) (provider.Profile, error)
	RequestVerification(ctx context.Context, caller auth.Identity, message string) (provider.Profile, error)
	AdminListPending(ctx context.Context, caller auth.Identity) ([]provider.Profile, error)
	AdminSetVerification(ctx context.Context, caller auth.Identity, providerID string, decision provider.VerificationStatus, note string) (provider.Profile, error)
}

type AdminService interface {
	Stats(ctx context.Context, caller auth.Identity) (admin.Stats, error)
	ListUsers(ctx context.Context, caller auth.Identity, filter admin.UserFilter) ([]admin.User, error)
}

// Services groups everything the API fronts.
type Services struct {
	Auth         AuthService
	Requests     RequestService
	Bids         BidService
	Contracts    ContractService
	Deliverables DeliverableService
	Payouts      PayoutService
	Providers    ProviderService
	Admin        AdminService
}

type Options struct {
	// MaxUploadBytes caps multipart bodies. The deliverable service applies
	// its own per-file limit on top.
	MaxUploadBytes int64
	DownloadTTL    time.Duration
}

type Server struct {
	svc     Services
	log     logging.Logger
	metrics *metrics.Metrics
	opts    Options
}

func New(svc Services, log logging.Logger, m *metrics.Metrics, opts Options) *Server {
	if log == nil {
		log = logging.Nop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 26 << 20
	}
	if opts.DownloadTTL <= 0 {
		opts.DownloadTTL = 15 * time.Minute
	}
	return &Server{svc: svc, log: log, metrics: m, opts: opts}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(s.authenticate)

		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)
		api.Post("/auth/forgot-password", s.handleForgotPassword)
		api.Post("/auth/reset-password", s.handleResetPassword)

		api.Group(func(p chi.Router) {
			p.Use(requireIdentity)

			p.Get("/auth/me", s.handleMe)

			p.Post("/requests", s.handleCreateRequest)
			p.Get("/requests/open", s.handleListOpenRequests)
			p.Get("/requests/mine", s.handleListMyRequests)
			p.Get("/requests/{id}", s.handleGetRequest)
			p.Patch("/requests/{id}", s.handleEditRequest)
			p.Post("/requests/{id}/bids", s.handleSubmitBid)
			p.Get("/requests/{id}/bids", s.handleListBids)
			p.Post("/bids/{id}/accept", s.handleAcceptBid)

			p.Get("/contracts/mine", s.handleListMyContracts)
			p.Get("/contracts/{id}", s.handleGetContract)
			p.Post("/contracts/{id}/complete", s.handleCompleteContract)
			p.Get("/contracts/{id}/events", s.handleContractEvents)
			p.Get("/contracts/{id}/messages", s.handleListMessages)
			p.Post("/contracts/{id}/messages", s.handlePostMessage)
			p.Post("/contracts/{id}/deliverables", s.handleUploadDeliverable)
			p.Get("/contracts/{id}/deliverables", s.handleListDeliverables)
			p.Get("/deliverables/{id}/download", s.handleDownloadDeliverable)

			p.Get("/payouts/summary", s.handlePayoutSummary)
			p.Post("/payouts", s.handleRequestPayout)
			p.Get("/payouts/mine", s.handleListMyPayouts)

			p.Get("/providers", s.handleListProviders)
			p.Put("/providers/me", s.handleUpdateMyProfile)
			p.Post("/providers/me/verification", s.handleRequestVerification)
			p.Get("/providers/{id}", s.handleGetProvider)
			p.Get("/providers/{id}/reviews", s.handleProviderReviews)

			p.Route("/admin", func(a chi.Router) {
				a.Get("/stats", s.handleAdminStats)
				a.Get("/users", s.handleAdminListUsers)
				a.Get("/contracts", s.handleAdminListContracts)
				a.Get("/contracts/{id}", s.handleAdminContract)
				a.Patch("/contracts/{id}/return-for-revision", s.handleReturnForRevision)
				a.Patch("/deliverables/{id}/verify", s.handleVerifyDeliverable)
				a.Get("/payouts", s.handleAdminListPayouts)
				a.Put("/payouts/{id}", s.handleUpdatePayout)
				a.Get("/providers/verification", s.handleListPendingVerification)
				a.Put("/providers/{id}/verification", s.handleDecideVerification)
			})
		})
	})

	return r
}

func caller(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}
