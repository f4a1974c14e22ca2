package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmerrifield20/senderauth/internal/domainauth/model"
	"github.com/jmerrifield20/senderauth/internal/domainauth/service"
	"github.com/jmerrifield20/senderauth/internal/planner"
)

// domainView is the wire form of a DomainAuth. The code hash never leaves
// the service; clients only learn whether a code is outstanding.
type domainView struct {
	ID              uuid.UUID           `json:"id"`
	Domain          string              `json:"domain"`
	Status          model.Status        `json:"status"`
	VerifyingEmail  string              `json:"verifyingEmail,omitempty"`
	Emails          []string            `json:"emails"`
	OTPPending      bool                `json:"otpPending"`
	OTPExpiresAt    *time.Time          `json:"otpExpiresAt,omitempty"`
	Provider        *model.ProviderMeta `json:"provider,omitempty"`
	RecheckAttempts int                 `json:"recheckAttempts"`
	AuthStartedAt   *time.Time          `json:"authStartedAt,omitempty"`
	LastCheckedAt   *time.Time          `json:"lastCheckedAt,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

func toView(d *model.DomainAuth) domainView {
	emails := d.KnownMailboxes
	if emails == nil {
		emails = []string{}
	}
	v := domainView{
		ID:              d.ID,
		Domain:          d.Domain,
		Status:          d.Status,
		VerifyingEmail:  d.VerifyingEmail,
		Emails:          emails,
		OTPPending:      d.HasChallenge(),
		Provider:        d.Provider,
		RecheckAttempts: d.RecheckAttempts,
		AuthStartedAt:   d.AuthStartedAt,
		LastCheckedAt:   d.LastCheckedAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if v.OTPPending {
		v.OTPExpiresAt = d.OTPExpiresAt
	}
	return v
}

func toViews(rows []*model.DomainAuth) []domainView {
	out := make([]domainView, 0, len(rows))
	for _, d := range rows {
		out = append(out, toView(d))
	}
	return out
}

// authView is the response for start-auth and recheck.
type authView struct {
	ID          uuid.UUID           `json:"id"`
	Status      model.Status        `json:"status"`
	Provider    *model.ProviderMeta `json:"provider"`
	Records     []planner.Record    `json:"records"`
	DMARC       bool                `json:"dmarc"`
	DKIM        bool                `json:"dkim"`
	Ready       bool                `json:"ready"`
	DMARCPolicy *string             `json:"dmarcPolicy"`
}

func toAuthView(res *service.AuthResult) authView {
	v := authView{
		ID:       res.Domain.ID,
		Status:   res.Domain.Status,
		Provider: res.Domain.Provider,
		Records:  res.Records,
		DMARC:    res.Readiness.DMARC,
		DKIM:     res.Readiness.DKIM,
		Ready:    res.Readiness.Ready(),
	}
	if v.Provider == nil {
		v.Provider = &model.ProviderMeta{}
	}
	if v.Records == nil {
		v.Records = []planner.Record{}
	}
	if p := res.Readiness.Policy; p != "" {
		v.DMARCPolicy = &p
	}
	return v
}
