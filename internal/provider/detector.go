package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/jmerrifield20/senderauth/internal/dns"
)

// Detection is the result of a provider lookup. When nothing matched, the
// provider fields are empty and DetectedNameservers holds whatever was
// resolved (possibly nothing).
type Detection struct {
	ProviderID          string   `json:"providerId,omitempty"`
	ProviderName        string   `json:"providerName,omitempty"`
	HelpURL             string   `json:"helpUrl,omitempty"`
	DetectedNameservers []string `json:"detectedNameservers"`
	Suspected           string   `json:"suspected,omitempty"`
}

// Matched reports whether a known provider was identified.
func (d Detection) Matched() bool { return d.ProviderID != "" }

// Detector resolves a domain's nameservers and matches them against the
// signature table.
type Detector struct {
	resolver dns.Resolver
	logger   *zap.Logger
}

// NewDetector creates a Detector.
func NewDetector(resolver dns.Resolver, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{resolver: resolver, logger: logger}
}

// Detect never returns an error. A failed NS lookup yields an empty
// nameserver list and no match.
func (d *Detector) Detect(ctx context.Context, domain string) Detection {
	domain = dns.Normalize(domain)
	out := Detection{DetectedNameservers: []string{}}

	nss, err := d.resolver.LookupNS(ctx, domain)
	if err != nil {
		d.logger.Debug("nameserver lookup failed",
			zap.String("domain", domain),
			zap.Error(err),
		)
		return out
	}
	out.DetectedNameservers = nss

	p, ok := Match(nss)
	if !ok {
		return out
	}
	out.ProviderID = p.ID
	out.ProviderName = p.Name
	out.HelpURL = p.HelpURL
	out.Suspected = p.Name
	return out
}
