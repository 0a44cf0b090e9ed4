package deliverable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"expertflow/apperr"
	"expertflow/auth"
	"expertflow/contract"
	"expertflow/db"
	"expertflow/logging"
	"expertflow/outbox"
	"expertflow/storage"
)

var (
	ErrNotUploader     = apperr.Authorization("deliverable: only the contract's provider may upload")
	ErrForbidden       = apperr.Authorization("deliverable: not visible to caller")
	ErrAdminOnly       = apperr.Authorization("deliverable: admin only")
	ErrDeadlinePassed  = apperr.DeadlineExpired("deliverable: the request's due time has passed")
	ErrContractClosed  = apperr.Conflict("deliverable: contract already completed")
	ErrAlreadyVerified = apperr.Conflict("deliverable: already verified")
)

// ContractLedger is the part of the contract ledger deliverables drive.
type ContractLedger interface {
	Get(ctx context.Context, id string, caller auth.Identity) (contract.Contract, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (contract.Contract, error)
	Apply(ctx context.Context, tx pgx.Tx, c contract.Contract, ev contract.Event, actorID string, payload map[string]any) (contract.Contract, error)
	Observe(c contract.Contract)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Options bound what may be uploaded.
type Options struct {
	MaxBytes          int64
	AllowedMediaTypes []string
}

type Service struct {
	pool      db.TxBeginner
	repo      Repository
	contracts ContractLedger
	blobs     storage.Store
	outbox    OutboxWriter
	log       logging.Logger
	opts      Options
	now       func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, contracts ContractLedger, blobs storage.Store, outbox OutboxWriter, opts Options) *Service {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 25 << 20
	}
	if len(opts.AllowedMediaTypes) == 0 {
		opts.AllowedMediaTypes = []string{"application/pdf"}
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		contracts: contracts,
		blobs:     blobs,
		outbox:    outbox,
		log:       logging.Nop(),
		opts:      opts,
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(log logging.Logger) *Service {
	s.log = log
	return s
}

// CanUpload reports whether caller may upload against c.
func CanUpload(c contract.Contract, caller auth.Identity) bool {
	return caller.UserID != "" && c.ProviderID == caller.UserID
}

// CanSee reports whether caller may see d on c. Requesters only ever see
// verified files.
func CanSee(d Deliverable, c contract.Contract, caller auth.Identity) bool {
	switch {
	case caller.IsAdmin(), c.ProviderID == caller.UserID:
		return true
	case c.RequesterID == caller.UserID:
		return d.Verified
	default:
		return false
	}
}

// Upload stores f and records it as a deliverable. The blob is removed
// again when the record cannot be written.
func (s *Service) Upload(ctx context.Context, contractID string, caller auth.Identity, kind Kind, f File) (Deliverable, error) {
	if f.Body == nil || f.Size <= 0 {
		return Deliverable{}, apperr.Validation("deliverable: empty file")
	}
	if f.Size > s.opts.MaxBytes {
		return Deliverable{}, apperr.Validation("deliverable: file exceeds %d bytes", s.opts.MaxBytes)
	}
	mediaType := strings.ToLower(strings.TrimSpace(f.MediaType))
	if !s.allowed(mediaType) {
		return Deliverable{}, apperr.Validation("deliverable: media type %q not accepted", f.MediaType)
	}

	// Cheap rejection before the blob is written; Submit re-checks under lock.
	c, err := s.contracts.Get(ctx, contractID, caller)
	if err != nil {
		return Deliverable{}, err
	}
	if err := s.checkSubmit(c, caller); err != nil {
		return Deliverable{}, err
	}

	key := storage.NewKey("deliverables", s.now().UTC())
	if err := s.blobs.Put(ctx, key, f.Body, f.Size, mediaType); err != nil {
		return Deliverable{}, err
	}

	d, err := s.Submit(ctx, contractID, caller, kind, FileMeta{
		StorageKey:   key,
		OriginalName: cleanName(f.Name),
		MediaType:    mediaType,
		SizeBytes:    f.Size,
	})
	if err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.log.Warn(ctx, "orphaned deliverable blob", "key", key, "error", delErr)
		}
		return Deliverable{}, err
	}
	return d, nil
}

// Submit records meta as a deliverable of the contract and moves the
// contract to AWAITING_REVIEW, in one transaction.
func (s *Service) Submit(ctx context.Context, contractID string, caller auth.Identity, kind Kind, meta FileMeta) (Deliverable, error) {
	if kind == "" {
		kind = KindFinal
	}
	if kind != KindDraft && kind != KindFinal {
		return Deliverable{}, apperr.Validation("deliverable: unknown kind %q", kind)
	}
	if meta.StorageKey == "" {
		return Deliverable{}, apperr.Validation("deliverable: storage key required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Deliverable{}, fmt.Errorf("deliverable: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.contracts.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Deliverable{}, err
	}
	if err := s.checkSubmit(c, caller); err != nil {
		return Deliverable{}, err
	}

	d, err := s.repo.Create(ctx, tx, Deliverable{
		ContractID:   c.ID,
		UploaderID:   caller.UserID,
		Kind:         kind,
		StorageKey:   meta.StorageKey,
		OriginalName: meta.OriginalName,
		MediaType:    meta.MediaType,
		SizeBytes:    meta.SizeBytes,
	})
	if err != nil {
		return Deliverable{}, err
	}

	updated, err := s.contracts.Apply(ctx, tx, c, contract.EventDeliverableSubmitted, caller.UserID, map[string]any{
		"deliverable_id": d.ID,
		"kind":           d.Kind,
	})
	if err != nil {
		return Deliverable{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"deliverable_id": d.ID,
			"contract_id":    c.ID,
			"requester_id":   c.RequesterID,
			"kind":           d.Kind,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicDeliverableSubmitted, payload); err != nil {
			return Deliverable{}, fmt.Errorf("deliverable: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Deliverable{}, fmt.Errorf("deliverable: commit submit: %w", err)
	}

	s.contracts.Observe(updated)
	s.log.Info(ctx, "deliverable submitted", "deliverable_id", d.ID, "contract_id", c.ID)
	return d, nil
}

func (s *Service) checkSubmit(c contract.Contract, caller auth.Identity) error {
	if !CanUpload(c, caller) {
		return ErrNotUploader
	}
	if !s.now().Before(c.DueAt) {
		return ErrDeadlinePassed
	}
	if c.Status == contract.StatusCompleted {
		return ErrContractClosed
	}
	return nil
}

// ListFor returns the deliverables of a contract the caller may see,
// newest first.
func (s *Service) ListFor(ctx context.Context, contractID string, caller auth.Identity) ([]Deliverable, error) {
	c, err := s.contracts.Get(ctx, contractID, caller)
	if err != nil {
		return nil, err
	}
	verifiedOnly := !caller.IsAdmin() && c.ProviderID != caller.UserID
	return s.repo.ListForContract(ctx, c.ID, verifiedOnly)
}

// Verify marks a deliverable verified and completes its contract, in one
// transaction. Each deliverable is verified at most once.
func (s *Service) Verify(ctx context.Context, deliverableID string, caller auth.Identity) (Deliverable, error) {
	if !caller.IsAdmin() {
		return Deliverable{}, ErrAdminOnly
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Deliverable{}, fmt.Errorf("deliverable: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, deliverableID)
	if err != nil {
		return Deliverable{}, err
	}
	if d.Verified {
		return Deliverable{}, ErrAlreadyVerified
	}

	c, err := s.contracts.GetForUpdate(ctx, tx, d.ContractID)
	if err != nil {
		return Deliverable{}, err
	}

	verified, err := s.repo.MarkVerified(ctx, tx, d.ID, caller.UserID, s.now().UTC())
	if err != nil {
		return Deliverable{}, err
	}

	updated, err := s.contracts.Apply(ctx, tx, c, contract.EventDeliverableVerified, caller.UserID, map[string]any{
		"deliverable_id": d.ID,
	})
	if err != nil {
		return Deliverable{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"deliverable_id": d.ID,
			"contract_id":    c.ID,
			"requester_id":   c.RequesterID,
			"provider_id":    c.ProviderID,
		}
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicDeliverableVerified, payload); err != nil {
			return Deliverable{}, fmt.Errorf("deliverable: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Deliverable{}, fmt.Errorf("deliverable: commit verify: %w", err)
	}

	s.contracts.Observe(updated)
	s.log.Info(ctx, "deliverable verified", "deliverable_id", d.ID, "contract_id", c.ID, "admin_id", caller.UserID)
	return verified, nil
}

// AdminContractView returns a contract with every deliverable, verified or
// not.
func (s *Service) AdminContractView(ctx context.Context, contractID string, caller auth.Identity) (ContractView, error) {
	if !caller.IsAdmin() {
		return ContractView{}, ErrAdminOnly
	}
	c, err := s.contracts.Get(ctx, contractID, caller)
	if err != nil {
		return ContractView{}, err
	}
	items, err := s.repo.ListForContract(ctx, c.ID, false)
	if err != nil {
		return ContractView{}, err
	}
	return ContractView{Contract: c, Deliverables: items}, nil
}

// Download resolves a deliverable the caller may see. When the store can
// presign, url is set and body is nil; otherwise body streams the file and
// the caller closes it.
func (s *Service) Download(ctx context.Context, deliverableID string, caller auth.Identity, ttl time.Duration) (d Deliverable, url string, body io.ReadCloser, err error) {
	d, err = s.repo.Get(ctx, deliverableID)
	if err != nil {
		return Deliverable{}, "", nil, err
	}
	c, err := s.contracts.Get(ctx, d.ContractID, caller)
	if err != nil {
		return Deliverable{}, "", nil, err
	}
	if !CanSee(d, c, caller) {
		return Deliverable{}, "", nil, ErrForbidden
	}

	url, err = s.blobs.PresignGet(ctx, d.StorageKey, ttl)
	if err == nil {
		return d, url, nil, nil
	}
	if !errors.Is(err, storage.ErrPresignUnsupported) {
		return Deliverable{}, "", nil, err
	}
	body, err = s.blobs.Open(ctx, d.StorageKey)
	if err != nil {
		return Deliverable{}, "", nil, err
	}
	return d, "", body, nil
}

func (s *Service) allowed(mediaType string) bool {
	for _, t := range s.opts.AllowedMediaTypes {
		if strings.EqualFold(t, mediaType) {
			return true
		}
	}
	return false
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
