// Package planner computes the DNS records a customer must publish so mail
// can be sent on behalf of their domain: one DKIM CNAME per selector and a
// single DMARC TXT record.
//
// Planning is a pure function of the domain and the Config. Live DNS state is
// filled in separately by the verifier.
package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmerrifield20/senderauth/internal/dns"
)

// Record kinds.
const (
	KindDKIM  = "dkim-cname"
	KindDMARC = "dmarc-txt"
)

// DMARC aggregate report address modes.
const (
	RUAPerDomain = "per-domain"
	RUACentral   = "central"
)

const (
	dkimNote  = "Add a CNAME that points to your provider-hosted DKIM public key."
	dmarcNote = "Start with policy p=none. You can tighten later to quarantine/reject."
)

// Record is one planned DNS record. Found and Policy reflect the most recent
// live check and are zero until the verifier has run.
type Record struct {
	Kind     string `json:"kind"`
	Type     string `json:"type"`
	Host     string `json:"host"`
	Value    string `json:"value"`
	TTL      int    `json:"ttl,omitempty"`
	Required bool   `json:"required"`
	Found    bool   `json:"found"`
	Purpose  string `json:"purpose"`
	Selector string `json:"selector,omitempty"`
	Note     string `json:"note,omitempty"`
	Policy   string `json:"dmarcPolicy,omitempty"`
}

// Config is the planning configuration.
type Config struct {
	// Selectors are the DKIM selectors to publish, in order.
	Selectors []string
	// DKIMTargetBase is the provider-hosted zone the selector CNAMEs point
	// into, e.g. "dkim.provider.example".
	DKIMTargetBase string
	// RUAMode selects the DMARC aggregate report address: RUAPerDomain uses
	// mailto:dmarc@<domain>, RUACentral uses RUA.
	RUAMode string
	// RUA is the central report address ("mailto:...").
	RUA string
	// TTL is the suggested record TTL in seconds.
	TTL int
	// SecondSelectorOptional marks every selector after the first as not
	// required.
	SecondSelectorOptional bool
}

// Validate reports configuration errors. An invalid report address is never
// replaced by a default.
func (c Config) Validate() error {
	var errs []error
	if len(c.Selectors) == 0 {
		errs = append(errs, errors.New("at least one DKIM selector is required"))
	}
	for _, s := range c.Selectors {
		if s == "" || strings.ContainsAny(s, ". ") {
			errs = append(errs, fmt.Errorf("invalid DKIM selector %q", s))
		}
	}
	if dns.Normalize(c.DKIMTargetBase) == "" {
		errs = append(errs, errors.New("dkim target base must be set"))
	}
	switch c.RUAMode {
	case RUAPerDomain:
	case RUACentral:
		if !strings.HasPrefix(strings.ToLower(c.RUA), "mailto:") || len(c.RUA) <= len("mailto:") {
			errs = append(errs, fmt.Errorf("central DMARC rua must be a mailto: address, got %q", c.RUA))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DMARC rua mode %q", c.RUAMode))
	}
	if c.TTL < 0 {
		errs = append(errs, fmt.Errorf("ttl must not be negative, got %d", c.TTL))
	}
	if len(errs) > 0 {
		return fmt.Errorf("planner config: %w", errors.Join(errs...))
	}
	return nil
}

// Planner computes record plans.
type Planner struct {
	cfg  Config
	base string
}

// New validates cfg and returns a Planner.
func New(cfg Config) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Selectors = append([]string(nil), cfg.Selectors...)
	return &Planner{cfg: cfg, base: dns.Normalize(cfg.DKIMTargetBase)}, nil
}

// DKIMTargetBase returns the normalized base zone.
func (p *Planner) DKIMTargetBase() string { return p.base }

// Plan returns the records for domain: the DKIM CNAMEs in selector order
// followed by the DMARC TXT record.
func (p *Planner) Plan(domain string) []Record {
	domain = dns.Normalize(domain)
	recs := make([]Record, 0, len(p.cfg.Selectors)+1)

	for i, sel := range p.cfg.Selectors {
		recs = append(recs, Record{
			Kind:     KindDKIM,
			Type:     "CNAME",
			Host:     sel + "._domainkey." + domain,
			Value:    sel + "." + p.base + ".",
			TTL:      p.cfg.TTL,
			Required: i == 0 || !p.cfg.SecondSelectorOptional,
			Purpose:  "dkim",
			Selector: sel,
			Note:     dkimNote,
		})
	}

	recs = append(recs, Record{
		Kind:     KindDMARC,
		Type:     "TXT",
		Host:     "_dmarc." + domain,
		Value:    "v=DMARC1; p=none; rua=" + p.rua(domain) + "; fo=1; sp=none",
		TTL:      p.cfg.TTL,
		Required: true,
		Purpose:  "dmarc",
		Note:     dmarcNote,
	})
	return recs
}

func (p *Planner) rua(domain string) string {
	if p.cfg.RUAMode == RUACentral {
		return p.cfg.RUA
	}
	return "mailto:dmarc@" + domain
}
