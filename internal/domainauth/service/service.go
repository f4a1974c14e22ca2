// Package service implements the domain authentication state machine:
// mailbox proof by one-time code, provider detection, record planning and
// DNS rechecks.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/senderauth/internal/domainauth/model"
	"github.com/jmerrifield20/senderauth/internal/domainauth/repository"
	"github.com/jmerrifield20/senderauth/internal/email"
	"github.com/jmerrifield20/senderauth/internal/metrics"
	"github.com/jmerrifield20/senderauth/internal/otp"
	"github.com/jmerrifield20/senderauth/internal/planner"
	"github.com/jmerrifield20/senderauth/internal/provider"
	"github.com/jmerrifield20/senderauth/internal/webhooks"
)

// maxUpdateAttempts bounds read-modify-write retries on version conflicts.
const maxUpdateAttempts = 3

// errNoChange lets a mutate callback skip the write.
var errNoChange = errors.New("no change")

// Store is the storage interface required by Service.
// *repository.PostgresRepository, *repository.DynamoRepository and
// *repository.MemoryRepository satisfy this interface.
type Store interface {
	Create(ctx context.Context, d *model.DomainAuth) error
	Get(ctx context.Context, accountID string, id uuid.UUID) (*model.DomainAuth, error)
	GetByDomain(ctx context.Context, accountID, domain string) (*model.DomainAuth, error)
	List(ctx context.Context, accountID string) ([]*model.DomainAuth, error)
	Update(ctx context.Context, d *model.DomainAuth) error
	Delete(ctx context.Context, accountID string, id uuid.UUID) error
}

// Detector identifies a domain's DNS host. *provider.Detector satisfies this interface.
type Detector interface {
	Detect(ctx context.Context, domain string) provider.Detection
}

// Checker runs a verification pass. *verifier.Verifier satisfies this interface.
type Checker interface {
	CheckAll(ctx context.Context, recs []planner.Record) []planner.Record
}

// Planner computes planned records. *planner.Planner satisfies this interface.
type Planner interface {
	Plan(domain string) []planner.Record
}

// Notifier receives status change events. *webhooks.Dispatcher satisfies
// this interface. Dispatch must not block on delivery.
type Notifier interface {
	Dispatch(eventType string, payload map[string]string)
}

// Policy controls mailbox admission and the failed transition.
type Policy struct {
	// FailedAfterAttempts is the number of unsuccessful rechecks after which
	// a domain may be marked failed. 0 disables the failed transition.
	FailedAfterAttempts int
	// FailedAfter is the minimum time since authentication started before
	// a domain may be marked failed.
	FailedAfter time.Duration
	// BlockedDomains replaces DefaultBlockedDomains when non-empty.
	BlockedDomains []string
}

// Service owns DomainAuth status transitions.
type Service struct {
	store    Store
	otp      *otp.Issuer
	sender   email.Sender
	mail     email.OTPMail
	detector Detector
	planner  Planner
	checker  Checker
	policy   Policy
	notifier Notifier
	mailbox  mailboxChecker
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a Service.
func New(store Store, issuer *otp.Issuer, sender email.Sender, detector Detector, plan Planner, checker Checker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		otp:      issuer,
		sender:   sender,
		detector: detector,
		planner:  plan,
		checker:  checker,
		policy:   Policy{FailedAfter: 72 * time.Hour},
		mailbox:  newMailboxChecker(nil),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// SetPolicy replaces the admission and failure policy.
func (s *Service) SetPolicy(p Policy) {
	s.policy = p
	s.mailbox = newMailboxChecker(p.BlockedDomains)
}

// SetMailTemplate configures the verification mail branding.
func (s *Service) SetMailTemplate(m email.OTPMail) {
	s.mail = m
}

// SetNotifier installs a receiver for status change events.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetClock overrides the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// List returns every domain the account has registered, newest first.
func (s *Service) List(ctx context.Context, accountID string) ([]*model.DomainAuth, error) {
	rows, err := s.store.List(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	return rows, nil
}

// Get returns one domain.
func (s *Service) Get(ctx context.Context, accountID string, id uuid.UUID) (*model.DomainAuth, error) {
	d, err := s.store.Get(ctx, accountID, id)
	if err != nil {
		return nil, mapStoreErr(err, "get domain")
	}
	return d, nil
}

// ListMailboxes flattens every domain's mailboxes into one listing,
// newest domain first and then by address.
func (s *Service) ListMailboxes(ctx context.Context, accountID string) ([]model.Mailbox, error) {
	rows, err := s.store.List(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}

	type key struct {
		id    uuid.UUID
		email string
	}
	seen := make(map[key]struct{})
	out := []model.Mailbox{}

	for _, d := range rows {
		add := func(addr string) {
			addr = strings.ToLower(strings.TrimSpace(addr))
			if addr == "" {
				return
			}
			k := key{d.ID, addr}
			if _, dup := seen[k]; dup {
				return
			}
			seen[k] = struct{}{}

			dom := d.Domain
			if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
				dom = addr[at+1:]
			}
			out = append(out, model.Mailbox{
				ID:           d.ID.String() + ":" + base64.RawURLEncoding.EncodeToString([]byte(addr)),
				Email:        addr,
				Domain:       dom,
				DomainID:     d.ID,
				DomainStatus: d.Status,
				CreatedAt:    d.CreatedAt,
			})
		}
		add(d.VerifyingEmail)
		for _, m := range d.KnownMailboxes {
			add(m)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Email < out[j].Email
	})
	return out, nil
}

// mutate loads the domain, applies fn and writes it back conditionally on the
// loaded version. fn sees a fresh copy on every attempt and may return an
// error to abort without writing.
func (s *Service) mutate(ctx context.Context, accountID string, id uuid.UUID, fn func(d *model.DomainAuth) error) (*model.DomainAuth, error) {
	for attempt := 1; ; attempt++ {
		d, err := s.store.Get(ctx, accountID, id)
		if err != nil {
			return nil, mapStoreErr(err, "load domain")
		}
		if err := fn(d); err != nil {
			if errors.Is(err, errNoChange) {
				return d, nil
			}
			return nil, err
		}
		err = s.store.Update(ctx, d)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, mapStoreErr(err, "update domain")
		}
		if attempt >= maxUpdateAttempts {
			s.logger.Warn("giving up after version conflicts",
				zap.String("account_id", accountID),
				zap.String("domain_id", id.String()),
				zap.Int("attempts", attempt),
			)
			return nil, ErrConcurrentUpdate
		}
	}
}

// noteTransition records a committed status change.
func (s *Service) noteTransition(from model.Status, d *model.DomainAuth) {
	if from == "" || from == d.Status {
		return
	}
	metrics.RecordTransition(string(from), string(d.Status))
	s.logger.Info("domain status changed",
		zap.String("domain", d.Domain),
		zap.String("domain_id", d.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(d.Status)),
	)

	event := webhooks.EventStatusChanged
	switch d.Status {
	case model.StatusAuthenticated:
		event = webhooks.EventAuthenticated
	case model.StatusFailed:
		event = webhooks.EventFailed
	}
	s.notify(event, from, d)
}

func (s *Service) notify(event string, from model.Status, d *model.DomainAuth) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(event, map[string]string{
		"account_id": d.AccountID,
		"domain_id":  d.ID.String(),
		"domain":     d.Domain,
		"from":       string(from),
		"status":     string(d.Status),
	})
}

func mapStoreErr(err error, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
