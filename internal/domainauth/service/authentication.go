package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/senderauth/internal/domainauth/model"
	"github.com/jmerrifield20/senderauth/internal/metrics"
	"github.com/jmerrifield20/senderauth/internal/planner"
	"github.com/jmerrifield20/senderauth/internal/provider"
	"github.com/jmerrifield20/senderauth/internal/verifier"
	"github.com/jmerrifield20/senderauth/internal/webhooks"
)

// AuthResult is the outcome of StartAuth and Recheck. Records and Readiness
// come from one verification pass.
type AuthResult struct {
	Domain    *model.DomainAuth
	Records   []planner.Record
	Readiness verifier.Readiness
}

// StartAuth detects the DNS host, plans the records and moves the domain to
// auth_in_progress. It may be repeated; an authenticated domain keeps its
// status until a recheck says otherwise.
func (s *Service) StartAuth(ctx context.Context, accountID string, id uuid.UUID) (*AuthResult, error) {
	d, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if d.Status == model.StatusVerificationPending {
		return nil, ErrMailboxUnverified
	}

	det := s.detector.Detect(ctx, d.Domain)
	recs := s.checker.CheckAll(ctx, s.planner.Plan(d.Domain))
	now := s.now()

	var from model.Status
	updated, err := s.mutate(ctx, accountID, id, func(cur *model.DomainAuth) error {
		if cur.Status == model.StatusVerificationPending {
			return ErrMailboxUnverified
		}
		from = cur.Status
		cur.Provider = model.MergeProvider(cur.Provider, detectionPatch(det))
		if cur.Status != model.StatusAuthenticated {
			cur.Status = model.StatusAuthInProgress
		}
		cur.RecheckAttempts = 0
		cur.AuthStartedAt = &now
		cur.LastCheckedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.noteTransition(from, updated)

	s.logger.Info("authentication started",
		zap.String("account_id", accountID),
		zap.String("domain", updated.Domain),
		zap.String("provider", det.ProviderID),
		zap.Int("nameservers", len(det.DetectedNameservers)),
	)
	return &AuthResult{Domain: updated, Records: recs, Readiness: verifier.Reduce(recs)}, nil
}

// Recheck verifies the planned records against live DNS and reduces the
// result to a status. Provider detection is refreshed when none is stored.
func (s *Service) Recheck(ctx context.Context, accountID string, id uuid.UUID) (*AuthResult, error) {
	d, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if d.Status == model.StatusVerificationPending {
		return nil, ErrMailboxUnverified
	}

	var det *provider.Detection
	if !hasProvider(d) {
		x := s.detector.Detect(ctx, d.Domain)
		det = &x
	}
	recs := s.checker.CheckAll(ctx, s.planner.Plan(d.Domain))
	ready := verifier.Reduce(recs)
	now := s.now()

	var from model.Status
	updated, err := s.mutate(ctx, accountID, id, func(cur *model.DomainAuth) error {
		if cur.Status == model.StatusVerificationPending {
			return ErrMailboxUnverified
		}
		from = cur.Status
		if det != nil && !hasProvider(cur) {
			cur.Provider = model.MergeProvider(cur.Provider, detectionPatch(*det))
		}
		cur.Status = s.nextStatus(cur, ready.Ready(), now)
		cur.LastCheckedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordRecheck(string(updated.Status))
	s.noteTransition(from, updated)

	s.logger.Info("dns recheck",
		zap.String("domain", updated.Domain),
		zap.String("domain_id", id.String()),
		zap.String("status", string(updated.Status)),
		zap.Bool("dmarc", ready.DMARC),
		zap.Bool("dkim", ready.DKIM),
		zap.Int("attempts", updated.RecheckAttempts),
	)
	return &AuthResult{Domain: updated, Records: recs, Readiness: ready}, nil
}

// nextStatus applies one recheck outcome to d's counters and returns the new
// status. Regression from authenticated always lands in auth_in_progress.
func (s *Service) nextStatus(d *model.DomainAuth, ready bool, now time.Time) model.Status {
	if ready {
		d.RecheckAttempts = 0
		return model.StatusAuthenticated
	}
	d.RecheckAttempts++
	if d.AuthStartedAt == nil {
		t := now
		d.AuthStartedAt = &t
	}
	switch {
	case d.Status == model.StatusAuthenticated:
		return model.StatusAuthInProgress
	case d.Status == model.StatusFailed, s.exhausted(d, now):
		return model.StatusFailed
	}
	return model.StatusAuthInProgress
}

func (s *Service) exhausted(d *model.DomainAuth, now time.Time) bool {
	p := s.policy
	if p.FailedAfterAttempts <= 0 || d.RecheckAttempts < p.FailedAfterAttempts {
		return false
	}
	return now.Sub(*d.AuthStartedAt) >= p.FailedAfter
}

// SetProvider records a manually chosen DNS host. Detected nameservers are
// kept and the connected flag is cleared.
func (s *Service) SetProvider(ctx context.Context, accountID string, id uuid.UUID, providerID string) (*model.DomainAuth, error) {
	p, ok := provider.Lookup(strings.TrimSpace(providerID))
	if !ok {
		return nil, ErrUnknownProvider
	}
	connected := false
	patch := model.ProviderPatch{
		ProviderID:   &p.ID,
		ProviderName: &p.Name,
		HelpURL:      &p.HelpURL,
		Suspected:    &p.Name,
		Connected:    &connected,
	}
	updated, err := s.mutate(ctx, accountID, id, func(cur *model.DomainAuth) error {
		cur.Provider = model.MergeProvider(cur.Provider, patch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("provider set manually",
		zap.String("domain", updated.Domain),
		zap.String("provider", p.ID),
	)
	return updated, nil
}

// Disconnect resets the domain to auth_required, dropping provider metadata
// and any outstanding code. Known mailboxes are kept.
func (s *Service) Disconnect(ctx context.Context, accountID string, id uuid.UUID) (*model.DomainAuth, error) {
	var from model.Status
	updated, err := s.mutate(ctx, accountID, id, func(cur *model.DomainAuth) error {
		from = cur.Status
		cur.Status = model.StatusAuthRequired
		cur.Provider = nil
		cur.ClearChallenge()
		cur.RecheckAttempts = 0
		cur.AuthStartedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.noteTransition(from, updated)
	s.notify(webhooks.EventDisconnected, from, updated)
	return updated, nil
}

func hasProvider(d *model.DomainAuth) bool {
	return d.Provider != nil && d.Provider.ProviderID != ""
}

// detectionPatch always refreshes the nameserver list but only touches the
// provider identity when something matched. Connected is never changed.
func detectionPatch(det provider.Detection) model.ProviderPatch {
	p := model.ProviderPatch{DetectedNameservers: det.DetectedNameservers}
	if p.DetectedNameservers == nil {
		p.DetectedNameservers = []string{}
	}
	if det.Matched() {
		p.ProviderID = &det.ProviderID
		p.ProviderName = &det.ProviderName
		p.HelpURL = &det.HelpURL
		p.Suspected = &det.Suspected
	}
	return p
}
