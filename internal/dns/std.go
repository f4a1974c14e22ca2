package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"
)

// StdResolver implements Resolver on top of net.Resolver.
//
// net.Resolver.LookupCNAME follows the whole alias chain and returns the
// canonical name, so a chain walked through StdResolver collapses to a single
// hop. That is sufficient for verification since the final target is still
// observed.
type StdResolver struct {
	r       *net.Resolver
	timeout time.Duration
}

// NewStdResolver creates a StdResolver. A nil r uses net.DefaultResolver.
func NewStdResolver(r *net.Resolver, timeout time.Duration) *StdResolver {
	if r == nil {
		r = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &StdResolver{r: r, timeout: timeout}
}

// LookupCNAME returns the canonical name for host. A host that is not an
// alias (its canonical name is itself) yields ErrNotFound.
func (s *StdResolver) LookupCNAME(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cname, err := s.r.LookupCNAME(ctx, host)
	if err != nil {
		return "", translate(err)
	}
	target := Normalize(cname)
	if target == "" || target == Normalize(host) {
		return "", ErrNotFound
	}
	return target, nil
}

// LookupTXT returns TXT answers at host. The standard library already joins
// multi-segment answers.
func (s *StdResolver) LookupTXT(ctx context.Context, host string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	txts, err := s.r.LookupTXT(ctx, host)
	if err != nil {
		return nil, translate(err)
	}
	if len(txts) == 0 {
		return nil, ErrNotFound
	}
	return txts, nil
}

// LookupNS returns the sorted, normalized nameserver hostnames for domain.
func (s *StdResolver) LookupNS(ctx context.Context, domain string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	nss, err := s.r.LookupNS(ctx, domain)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]string, 0, len(nss))
	for _, ns := range nss {
		out = append(out, Normalize(ns.Host))
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	sort.Strings(out)
	return out, nil
}

func translate(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return ErrNotFound
		case dnsErr.IsTimeout:
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServFail, err)
}
