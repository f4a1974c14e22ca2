package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/senderauth/internal/domainauth/model"
	"github.com/jmerrifield20/senderauth/internal/domainauth/repository"
	"github.com/jmerrifield20/senderauth/internal/email"
	"github.com/jmerrifield20/senderauth/internal/metrics"
	"github.com/jmerrifield20/senderauth/internal/otp"
)

// SubmitResult reports the outcome of SubmitMailbox.
type SubmitResult struct {
	Domain   *model.DomainAuth
	Created  bool // a new domain entity was created
	CodeSent bool // a verification code was mailed
}

// SubmitMailbox claims the mailbox's domain for the account and mails a
// verification code when one is needed.
//
//   - new domain: create it in verification_pending and send a code.
//   - pending, same mailbox, code still valid: *PendingConflictError.
//   - pending, code expired or a different mailbox: rotate and resend.
//   - past verification: record the mailbox and return the domain as is.
//
// requester identifies the account in the mail body.
func (s *Service) SubmitMailbox(ctx context.Context, accountID, rawEmail, requester string) (*SubmitResult, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	addr, domain, err := s.mailbox.parse(rawEmail)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetByDomain(ctx, accountID, domain)
	if errors.Is(err, repository.ErrNotFound) {
		res, cerr := s.createPending(ctx, accountID, domain, addr, requester)
		if !errors.Is(cerr, repository.ErrDuplicate) {
			return res, cerr
		}
		// Lost a creation race before any mail went out; continue against
		// the winner's row.
		existing, err = s.store.GetByDomain(ctx, accountID, domain)
	}
	if err != nil {
		return nil, mapStoreErr(err, "load domain")
	}

	if existing.Status != model.StatusVerificationPending {
		return s.recordMailbox(ctx, existing, addr)
	}
	return s.rotate(ctx, existing, addr, requester)
}

// createPending inserts the row before mailing so that only the request that
// wins the (account, domain) slot sends a code. A failed delivery removes the
// row again.
func (s *Service) createPending(ctx context.Context, accountID, domain, addr, requester string) (*SubmitResult, error) {
	ch, err := s.otp.Issue(s.now(), s.otp.TTL())
	if err != nil {
		return nil, err
	}

	d := &model.DomainAuth{
		AccountID:      accountID,
		Domain:         domain,
		Status:         model.StatusVerificationPending,
		VerifyingEmail: addr,
	}
	d.AddMailbox(addr)
	d.SetChallenge(ch.Hash, ch.ExpiresAt)

	if err := s.store.Create(ctx, d); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("create domain: %w", err)
	}
	if err := s.sendCode(ctx, addr, requester, domain, ch, email.SubjectFirstIssue, s.otp.TTL()); err != nil {
		if derr := s.store.Delete(ctx, accountID, d.ID); derr != nil && !errors.Is(derr, repository.ErrNotFound) {
			s.logger.Error("remove undelivered domain",
				zap.String("domain_id", d.ID.String()),
				zap.Error(derr),
			)
		}
		return nil, err
	}
	metrics.RecordOTPIssued("create")
	s.logger.Info("domain created, verification code sent",
		zap.String("account_id", accountID),
		zap.String("domain", domain),
		zap.String("domain_id", d.ID.String()),
		zap.Time("expires_at", ch.ExpiresAt),
	)
	return &SubmitResult{Domain: d, Created: true, CodeSent: true}, nil
}

func (s *Service) recordMailbox(ctx context.Context, existing *model.DomainAuth, addr string) (*SubmitResult, error) {
	d, err := s.mutate(ctx, existing.AccountID, existing.ID, func(cur *model.DomainAuth) error {
		changed := cur.AddMailbox(addr)
		if cur.VerifyingEmail == "" {
			cur.VerifyingEmail = addr
			changed = true
		}
		if !changed {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Domain: d}, nil
}

func (s *Service) rotate(ctx context.Context, existing *model.DomainAuth, addr, requester string) (*SubmitResult, error) {
	now := s.now()
	sameMailbox := strings.EqualFold(existing.VerifyingEmail, addr)
	if sameMailbox && existing.HasChallenge() && !otp.Expired(existing.OTPExpiresAt, now) {
		s.logger.Info("verification already pending, rotation suppressed",
			zap.String("domain", existing.Domain),
			zap.String("domain_id", existing.ID.String()),
		)
		return nil, &PendingConflictError{Email: addr}
	}

	ch, err := s.otp.Issue(now, s.otp.TTL())
	if err != nil {
		return nil, err
	}
	if err := s.sendCode(ctx, addr, requester, existing.Domain, ch, email.SubjectRotated, s.otp.TTL()); err != nil {
		return nil, err
	}

	d, err := s.mutate(ctx, existing.AccountID, existing.ID, func(cur *model.DomainAuth) error {
		if cur.Status != model.StatusVerificationPending {
			return ErrConcurrentUpdate
		}
		cur.SetChallenge(ch.Hash, ch.ExpiresAt)
		cur.VerifyingEmail = addr
		cur.AddMailbox(addr)
		return nil
	})
	if err != nil {
		return nil, err
	}

	reason := "rotate_expired"
	if !sameMailbox {
		reason = "rotate_mailbox"
	}
	metrics.RecordOTPIssued(reason)
	s.logger.Info("verification code rotated",
		zap.String("domain", d.Domain),
		zap.String("domain_id", d.ID.String()),
		zap.String("reason", reason),
	)
	return &SubmitResult{Domain: d, CodeSent: true}, nil
}

// ResendOTP mails a fresh short-lived code to the domain's verifying mailbox.
func (s *Service) ResendOTP(ctx context.Context, accountID string, id uuid.UUID, requester string) (*model.DomainAuth, error) {
	d, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if d.Status != model.StatusVerificationPending || d.VerifyingEmail == "" {
		return nil, ErrNotPending
	}

	ttl := s.otp.ResendTTL()
	ch, err := s.otp.Issue(s.now(), ttl)
	if err != nil {
		return nil, err
	}
	if err := s.sendCode(ctx, d.VerifyingEmail, requester, d.Domain, ch, email.SubjectFirstIssue, ttl); err != nil {
		return nil, err
	}

	updated, err := s.mutate(ctx, accountID, id, func(cur *model.DomainAuth) error {
		if cur.Status != model.StatusVerificationPending {
			return ErrNotPending
		}
		cur.SetChallenge(ch.Hash, ch.ExpiresAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordOTPIssued("resend")
	s.logger.Info("verification code resent",
		zap.String("domain", updated.Domain),
		zap.String("domain_id", id.String()),
		zap.Time("expires_at", ch.ExpiresAt),
	)
	return updated, nil
}

// VerifyOTP checks a submitted code. On success the challenge is cleared and
// the domain moves to auth_required in the same write. A wrong code leaves
// the hash and expiry in place and counts against the challenge; once
// otp.Issuer.MaxAttempts wrong codes are in, every submission fails with
// ErrOTPLocked until a new code is issued. With no challenge outstanding the
// answer is ErrOTPExpired, including after a successful verification.
func (s *Service) VerifyOTP(ctx context.Context, accountID string, id uuid.UUID, code string) (*model.DomainAuth, error) {
	d, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if !d.HasChallenge() || otp.Expired(d.OTPExpiresAt, s.now()) {
		metrics.RecordOTPVerification("expired")
		return nil, ErrOTPExpired
	}
	if d.Status != model.StatusVerificationPending {
		return nil, ErrNotPending
	}
	if d.OTPAttempts >= s.otp.MaxAttempts() {
		metrics.RecordOTPVerification("locked")
		return nil, ErrOTPLocked
	}

	hash := d.OTPHash
	if err := s.otp.Compare(hash, code); err != nil {
		if errors.Is(err, otp.ErrMismatch) || errors.Is(err, otp.ErrMalformed) {
			metrics.RecordOTPVerification("invalid")
			return nil, s.recordMiss(ctx, accountID, id, hash)
		}
		return nil, fmt.Errorf("verify code: %w", err)
	}

	var from model.Status
	updated, err := s.mutate(ctx, accountID, id, func(cur *model.DomainAuth) error {
		// Verified or rotated after the code was checked.
		if cur.Status != model.StatusVerificationPending || cur.OTPHash != hash {
			return ErrOTPExpired
		}
		from = cur.Status
		cur.ClearChallenge()
		cur.Status = model.StatusAuthRequired
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordOTPVerification("success")
	s.noteTransition(from, updated)
	return updated, nil
}

// recordMiss counts a wrong code against the challenge identified by hash
// and returns the error for the caller. A challenge rotated in the meantime
// is left alone.
func (s *Service) recordMiss(ctx context.Context, accountID string, id uuid.UUID, hash string) error {
	d, err := s.mutate(ctx, accountID, id, func(cur *model.DomainAuth) error {
		if cur.OTPHash != hash {
			return errNoChange
		}
		cur.OTPAttempts++
		return nil
	})
	if err != nil {
		return err
	}
	if d.OTPHash == hash && d.OTPAttempts >= s.otp.MaxAttempts() {
		s.logger.Warn("verification code locked after repeated misses",
			zap.String("domain", d.Domain),
			zap.String("domain_id", d.ID.String()),
			zap.Int("attempts", d.OTPAttempts),
		)
	}
	return ErrOTPMismatch
}

func (s *Service) sendCode(ctx context.Context, to, requester, domain string, ch *otp.Challenge, subject string, ttl time.Duration) error {
	msg, err := s.mail.Render(email.OTPMailData{
		To:        to,
		Requester: requester,
		Domain:    domain,
		Code:      ch.Code,
		Subject:   subject,
		Expires:   ttl,
	})
	if err != nil {
		return fmt.Errorf("build verification email: %w", err)
	}
	if _, err := s.sender.Send(ctx, msg); err != nil {
		s.logger.Warn("verification email delivery failed",
			zap.String("domain", domain),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}
