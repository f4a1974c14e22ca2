package client

import "time"

// Domain is a domain authentication as returned by the API.
type Domain struct {
	ID              string     `json:"id"`
	Domain          string     `json:"domain"`
	Status          string     `json:"status"`
	VerifyingEmail  string     `json:"verifyingEmail,omitempty"`
	Emails          []string   `json:"emails"`
	OTPPending      bool       `json:"otpPending"`
	OTPExpiresAt    *time.Time `json:"otpExpiresAt,omitempty"`
	Provider        *Provider  `json:"provider,omitempty"`
	RecheckAttempts int        `json:"recheckAttempts"`
	AuthStartedAt   *time.Time `json:"authStartedAt,omitempty"`
	LastCheckedAt   *time.Time `json:"lastCheckedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Provider is the DNS host metadata attached to a domain.
type Provider struct {
	ProviderID          string   `json:"providerId,omitempty"`
	ProviderName        string   `json:"providerName,omitempty"`
	HelpURL             string   `json:"helpUrl,omitempty"`
	Suspected           string   `json:"suspected,omitempty"`
	Connected           bool     `json:"connected"`
	DetectedNameservers []string `json:"detectedNameservers,omitempty"`
}

// CatalogEntry is one known DNS provider.
type CatalogEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	HelpURL string `json:"helpUrl"`
}

// Record is a planned DNS record with the result of its latest check.
type Record struct {
	Kind        string `json:"kind"`
	Type        string `json:"type"`
	Host        string `json:"host"`
	Value       string `json:"value"`
	TTL         int    `json:"ttl,omitempty"`
	Required    bool   `json:"required"`
	Found       bool   `json:"found"`
	Purpose     string `json:"purpose"`
	Selector    string `json:"selector,omitempty"`
	Note        string `json:"note,omitempty"`
	DMARCPolicy string `json:"dmarcPolicy,omitempty"`
}

// AuthState is the result of StartAuth and Recheck.
type AuthState struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Provider    *Provider `json:"provider"`
	Records     []Record  `json:"records"`
	DMARC       bool      `json:"dmarc"`
	DKIM        bool      `json:"dkim"`
	Ready       bool      `json:"ready"`
	DMARCPolicy *string   `json:"dmarcPolicy"`
}

// Mailbox is one row of the account's mailbox listing.
type Mailbox struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Domain       string    `json:"domain"`
	DomainID     string    `json:"domainId"`
	DomainStatus string    `json:"domainStatus"`
	CreatedAt    time.Time `json:"createdAt"`
}
