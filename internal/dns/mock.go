package dns

import (
	"context"
	"slices"
	"sort"
	"sync/atomic"
)

// MockResolver is a Resolver used for testing. Map keys are hostnames; they
// are normalized on lookup so "Example.COM." and "example.com" are the same.
type MockResolver struct {
	CNAME map[string]string
	TXT   map[string][]string
	NS    map[string][]string

	// Fail lists lookups that return ErrServFail, formatted "type name",
	// e.g. "txt _dmarc.example.com". Type is lowercase.
	Fail []string

	calls atomic.Int64
}

var _ Resolver = (*MockResolver)(nil)

// Calls returns the number of lookups served so far.
func (m *MockResolver) Calls() int64 {
	return m.calls.Load()
}

func (m *MockResolver) begin(ctx context.Context, kind, name string) error {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return ErrTimeout
	}
	if slices.Contains(m.Fail, kind+" "+name) {
		return ErrServFail
	}
	return nil
}

func lookupKey[V any](tbl map[string]V, name string) (V, bool) {
	for k, v := range tbl {
		if Normalize(k) == name {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// LookupCNAME returns the mapped CNAME target for host.
func (m *MockResolver) LookupCNAME(ctx context.Context, host string) (string, error) {
	name := Normalize(host)
	if err := m.begin(ctx, "cname", name); err != nil {
		return "", err
	}
	target, ok := lookupKey(m.CNAME, name)
	if !ok || target == "" {
		return "", ErrNotFound
	}
	return Normalize(target), nil
}

// LookupTXT returns the mapped TXT answers for host.
func (m *MockResolver) LookupTXT(ctx context.Context, host string) ([]string, error) {
	name := Normalize(host)
	if err := m.begin(ctx, "txt", name); err != nil {
		return nil, err
	}
	txts, ok := lookupKey(m.TXT, name)
	if !ok || len(txts) == 0 {
		return nil, ErrNotFound
	}
	return append([]string(nil), txts...), nil
}

// LookupNS returns the mapped nameservers for domain, sorted and normalized.
func (m *MockResolver) LookupNS(ctx context.Context, domain string) ([]string, error) {
	name := Normalize(domain)
	if err := m.begin(ctx, "ns", name); err != nil {
		return nil, err
	}
	nss, ok := lookupKey(m.NS, name)
	if !ok || len(nss) == 0 {
		return nil, ErrNotFound
	}
	out := make([]string, 0, len(nss))
	for _, ns := range nss {
		out = append(out, Normalize(ns))
	}
	sort.Strings(out)
	return out, nil
}
