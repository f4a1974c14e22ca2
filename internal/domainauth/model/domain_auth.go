package model

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a domain authentication.
type Status string

const (
	StatusVerificationPending Status = "verification_pending"
	StatusAuthRequired        Status = "auth_required"
	StatusAuthInProgress      Status = "auth_in_progress"
	StatusAuthenticated       Status = "authenticated"
	StatusFailed              Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusVerificationPending, StatusAuthRequired, StatusAuthInProgress, StatusAuthenticated, StatusFailed:
		return true
	}
	return false
}

// DomainAuth is the per-(account, domain) authentication entity.
type DomainAuth struct {
	ID             uuid.UUID `json:"id"`
	AccountID      string    `json:"accountId"`
	Domain         string    `json:"domain"`
	Status         Status    `json:"status"`
	VerifyingEmail string    `json:"verifyingEmail"`
	KnownMailboxes []string  `json:"knownMailboxes"`

	// OTPHash and OTPExpiresAt are set and cleared together. OTPAttempts
	// counts wrong codes submitted against the current challenge.
	OTPHash      string     `json:"-"`
	OTPExpiresAt *time.Time `json:"otpExpiresAt,omitempty"`
	OTPAttempts  int        `json:"-"`

	Provider *ProviderMeta `json:"providerMeta,omitempty"`

	// RecheckAttempts counts rechecks since authentication last started that
	// did not find the records ready.
	RecheckAttempts int        `json:"recheckAttempts"`
	AuthStartedAt   *time.Time `json:"authStartedAt,omitempty"`
	LastCheckedAt   *time.Time `json:"lastCheckedAt,omitempty"`

	// Version is bumped by the store on every successful update.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasChallenge reports whether an OTP challenge is outstanding, regardless of
// expiry.
func (d *DomainAuth) HasChallenge() bool {
	return d.OTPHash != "" && d.OTPExpiresAt != nil
}

// SetChallenge stores a new OTP hash and expiry.
func (d *DomainAuth) SetChallenge(hash string, expiresAt time.Time) {
	exp := expiresAt.UTC()
	d.OTPHash = hash
	d.OTPExpiresAt = &exp
	d.OTPAttempts = 0
}

// ClearChallenge removes any outstanding OTP challenge.
func (d *DomainAuth) ClearChallenge() {
	d.OTPHash = ""
	d.OTPExpiresAt = nil
	d.OTPAttempts = 0
}

// AddMailbox records email as known for the domain. Comparison is
// case-insensitive. Returns true when the mailbox was new.
func (d *DomainAuth) AddMailbox(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	if slices.ContainsFunc(d.KnownMailboxes, func(m string) bool { return strings.EqualFold(m, email) }) {
		return false
	}
	d.KnownMailboxes = append(d.KnownMailboxes, email)
	return true
}

// Clone returns a deep copy.
func (d *DomainAuth) Clone() *DomainAuth {
	cp := *d
	cp.KnownMailboxes = slices.Clone(d.KnownMailboxes)
	cp.OTPExpiresAt = cloneTime(d.OTPExpiresAt)
	cp.AuthStartedAt = cloneTime(d.AuthStartedAt)
	cp.LastCheckedAt = cloneTime(d.LastCheckedAt)
	if d.Provider != nil {
		p := d.Provider.Clone()
		cp.Provider = &p
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Mailbox is one row of the flattened mailbox listing.
type Mailbox struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Domain       string    `json:"domain"`
	DomainID     uuid.UUID `json:"domainId"`
	DomainStatus Status    `json:"domainStatus"`
	CreatedAt    time.Time `json:"createdAt"`
}
