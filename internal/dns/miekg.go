package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	mdns "github.com/miekg/dns"
)

// ednsBufferSize is the UDP payload size advertised through EDNS0.
const ednsBufferSize = 4096

// MiekgResolver implements Resolver with github.com/miekg/dns, querying the
// configured recursive nameservers directly. Each query is bounded by
// Config.Timeout so one unresponsive server cannot stall a caller. Truncated
// UDP answers are retried over TCP against the same server.
type MiekgResolver struct {
	cfg    Config
	client *mdns.Client
	tcp    *mdns.Client
}

// NewMiekgResolver creates a MiekgResolver.
func NewMiekgResolver(cfg Config) *MiekgResolver {
	cfg = cfg.withDefaults()
	if len(cfg.Nameservers) == 0 {
		cfg.Nameservers = systemNameservers()
	}
	return &MiekgResolver{
		cfg:    cfg,
		client: &mdns.Client{Timeout: cfg.Timeout, UDPSize: ednsBufferSize},
		tcp:    &mdns.Client{Net: "tcp", Timeout: cfg.Timeout},
	}
}

// systemNameservers reads /etc/resolv.conf, falling back to public resolvers.
func systemNameservers() []string {
	conf, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	servers := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		servers = append(servers, net.JoinHostPort(s, conf.Port))
	}
	return servers
}

// Nameservers returns the upstream servers this resolver queries.
func (r *MiekgResolver) Nameservers() []string {
	return append([]string(nil), r.cfg.Nameservers...)
}

func (r *MiekgResolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(Normalize(name)), qtype)
	m.RecursionDesired = true
	m.SetEdns0(ednsBufferSize, false)

	var lastErr error
	for attempt := 0; attempt < r.cfg.Retries; attempt++ {
		for _, server := range r.cfg.Nameservers {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
			}

			resp, err := r.exchange(ctx, m, server)
			if err != nil {
				lastErr = classifyExchangeError(err)
				continue
			}

			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, nil
			case mdns.RcodeNameError:
				return nil, ErrNotFound
			case mdns.RcodeServerFailure:
				lastErr = ErrServFail
			case mdns.RcodeRefused:
				lastErr = ErrRefused
			default:
				lastErr = fmt.Errorf("%w: rcode %s", ErrServFail, mdns.RcodeToString[resp.Rcode])
			}
		}
	}
	if lastErr == nil {
		lastErr = ErrServFail
	}
	return nil, lastErr
}

// exchange sends m over UDP and repeats it over TCP when the answer comes
// back with the TC bit set.
func (r *MiekgResolver) exchange(ctx context.Context, m *mdns.Msg, server string) (*mdns.Msg, error) {
	qctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	resp, _, err := r.client.ExchangeContext(qctx, m, server)
	if err != nil || !resp.Truncated {
		return resp, err
	}

	tctx, tcancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer tcancel()
	resp, _, err = r.tcp.ExchangeContext(tctx, m, server)
	return resp, err
}

func classifyExchangeError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServFail, err)
}

// LookupCNAME returns the CNAME target published directly at host.
func (r *MiekgResolver) LookupCNAME(ctx context.Context, host string) (string, error) {
	resp, err := r.query(ctx, host, mdns.TypeCNAME)
	if err != nil {
		return "", err
	}
	owner := Normalize(host)
	var first string
	for _, rr := range resp.Answer {
		c, ok := rr.(*mdns.CNAME)
		if !ok {
			continue
		}
		if Normalize(c.Hdr.Name) == owner {
			return Normalize(c.Target), nil
		}
		if first == "" {
			first = Normalize(c.Target)
		}
	}
	if first == "" {
		return "", ErrNotFound
	}
	return first, nil
}

// LookupTXT returns TXT answers at host with segments joined.
func (r *MiekgResolver) LookupTXT(ctx context.Context, host string) ([]string, error) {
	resp, err := r.query(ctx, host, mdns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// LookupNS returns the sorted, normalized nameserver hostnames for domain.
func (r *MiekgResolver) LookupNS(ctx context.Context, domain string) ([]string, error) {
	resp, err := r.query(ctx, domain, mdns.TypeNS)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range resp.Answer {
		if ns, ok := rr.(*mdns.NS); ok {
			out = append(out, Normalize(ns.Ns))
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	sort.Strings(out)
	return out, nil
}
