package admin

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"expertflow/apperr"
	"expertflow/auth"
)

var ErrAdminOnly = apperr.Authorization("admin: admin only")

// DefaultUserLimit and MaxUserLimit bound ListUsers pages.
const (
	DefaultUserLimit = 50
	MaxUserLimit     = 500
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Stats gathers the overview. The independent aggregates run concurrently;
// the first failure cancels the rest.
func (s *Service) Stats(ctx context.Context, caller auth.Identity) (Stats, error) {
	if !caller.IsAdmin() {
		return Stats{}, ErrAdminOnly
	}

	var (
		out = Stats{GeneratedAt: s.now().UTC()}
		mu  sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		users, err := s.repo.CountUsers(gctx)
		mu.Lock()
		out.UsersByRole = users
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		requests, err := s.repo.CountByStatus(gctx, "requests")
		mu.Lock()
		out.RequestsByStatus = requests
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		contracts, err := s.repo.CountByStatus(gctx, "contracts")
		mu.Lock()
		out.ContractsByStatus = contracts
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		money, err := s.repo.Money(gctx)
		mu.Lock()
		out.Money = money
		mu.Unlock()
		return err
	})
	g.Go(func() error {
		backlog, err := s.repo.Backlog(gctx)
		mu.Lock()
		out.Backlog = backlog
		mu.Unlock()
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// ListUsers pages through accounts, optionally by role.
func (s *Service) ListUsers(ctx context.Context, caller auth.Identity, filter UserFilter) ([]User, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	switch filter.Role {
	case "", auth.RoleRequester, auth.RoleProvider, auth.RoleAdmin:
	default:
		return nil, apperr.Validation("admin: unknown role %q", filter.Role)
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultUserLimit
	}
	if filter.Limit > MaxUserLimit {
		filter.Limit = MaxUserLimit
	}
	return s.repo.ListUsers(ctx, filter)
}
