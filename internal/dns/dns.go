// Package dns provides the narrow DNS lookup surface used by provider
// detection and record verification.
//
// Two implementations are available: MiekgResolver talks to configured
// recursive nameservers directly via github.com/miekg/dns, and StdResolver
// wraps net.Resolver. MockResolver serves records from in-memory maps for
// tests.
package dns

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Resolver performs the three lookups the verification engine needs.
// Every method returns ErrNotFound when the name exists but has no record of
// the requested type, or when the name does not exist at all.
type Resolver interface {
	// LookupCNAME returns the single CNAME target published at host,
	// normalized (lowercase, no trailing dot).
	LookupCNAME(ctx context.Context, host string) (string, error)
	// LookupTXT returns one string per TXT answer with its character-string
	// segments concatenated.
	LookupTXT(ctx context.Context, host string) ([]string, error)
	// LookupNS returns the nameserver hostnames delegated for domain,
	// normalized.
	LookupNS(ctx context.Context, domain string) ([]string, error)
}

// Lookup errors. Consumers treat all of them as "record not present".
var (
	ErrNotFound = errors.New("dns: record not found")
	ErrServFail = errors.New("dns: server failure")
	ErrRefused  = errors.New("dns: query refused")
	ErrTimeout  = errors.New("dns: query timed out")
)

// Config holds resolver settings shared by the network-backed resolvers.
type Config struct {
	// Nameservers is a list of "host:port" recursive resolvers. Empty means
	// read /etc/resolv.conf, falling back to public resolvers.
	Nameservers []string
	// Timeout bounds each individual query. Default 3s.
	Timeout time.Duration
	// Retries is the number of rounds over Nameservers. Default 1.
	Retries int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 1
	}
	return c
}

// Normalize lowercases a hostname, trims surrounding whitespace and strips
// any trailing dots.
func Normalize(host string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(host)), ".")
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTemporary reports whether err is a transient resolver failure that may
// succeed on a later attempt.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrServFail) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrRefused)
}
