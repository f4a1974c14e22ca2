// Package verifier checks planned DNS records against live DNS.
//
// Checks never fail. Any resolver error, timeout or malformed answer is
// reported as found=false for the affected record, so one flaky nameserver
// cannot fail a whole verification pass.
package verifier

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jmerrifield20/senderauth/internal/dns"
	"github.com/jmerrifield20/senderauth/internal/metrics"
	"github.com/jmerrifield20/senderauth/internal/planner"
)

const (
	DefaultMaxHops        = 5
	DefaultPassTimeout    = 10 * time.Second
	DefaultMaxConcurrency = 4
)

var (
	dmarcHost   = regexp.MustCompile(`(?i)^_dmarc(\.|$)`)
	dmarcMarker = regexp.MustCompile(`(?i)\bv=DMARC1\b`)
	dmarcPolicy = regexp.MustCompile(`(?i)\bp\s*=\s*(none|quarantine|reject)\b`)
)

// Config controls chain following and pass bounds.
type Config struct {
	// DKIMTargetBase is the provider zone the DKIM CNAMEs delegate into. A
	// chain hop inside this zone counts as found even when the exact
	// expected target is not observed.
	DKIMTargetBase string
	// MaxHops caps CNAME chain following. Default 5.
	MaxHops int
	// PassTimeout bounds a whole CheckAll pass. Default 10s.
	PassTimeout time.Duration
	// MaxConcurrency bounds the number of records checked at once. Default 4.
	MaxConcurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxHops <= 0 {
		c.MaxHops = DefaultMaxHops
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = DefaultPassTimeout
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	c.DKIMTargetBase = dns.Normalize(c.DKIMTargetBase)
	return c
}

// Verifier checks records with a Resolver. It holds no per-pass state and is
// safe for concurrent use.
type Verifier struct {
	resolver dns.Resolver
	cfg      Config
	logger   *zap.Logger
}

// New creates a Verifier.
func New(resolver dns.Resolver, cfg Config, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{resolver: resolver, cfg: cfg.withDefaults(), logger: logger}
}

// Check returns a copy of rec with Found (and Policy for DMARC) set from
// live DNS.
func (v *Verifier) Check(ctx context.Context, rec planner.Record) planner.Record {
	start := time.Now()
	out := rec
	out.Found = false
	out.Policy = ""

	switch rec.Kind {
	case planner.KindDKIM:
		out.Found = v.checkDKIM(ctx, rec)
	case planner.KindDMARC:
		out.Found, out.Policy = v.checkDMARC(ctx, rec)
	default:
		v.logger.Warn("unknown record kind", zap.String("kind", rec.Kind), zap.String("host", rec.Host))
	}

	metrics.RecordDNSCheck(rec.Kind, out.Found, time.Since(start))
	return out
}

// CheckAll checks every record concurrently and returns the results in
// input order. Records still unchecked when the pass deadline expires are
// reported as not found.
func (v *Verifier) CheckAll(ctx context.Context, recs []planner.Record) []planner.Record {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.PassTimeout)
	defer cancel()

	out := make([]planner.Record, len(recs))
	var g errgroup.Group
	g.SetLimit(v.cfg.MaxConcurrency)
	for i := range recs {
		i := i
		g.Go(func() error {
			out[i] = v.Check(ctx, recs[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Chain follows the CNAME chain starting at host and returns every observed
// target in order. It stops at the hop cap, when a target was already seen,
// or when a hop has no further CNAME.
func (v *Verifier) Chain(ctx context.Context, host string) []string {
	current := dns.Normalize(host)
	seen := map[string]bool{current: true}
	var chain []string

	for hop := 0; hop < v.cfg.MaxHops; hop++ {
		target, err := v.resolver.LookupCNAME(ctx, current)
		if err != nil {
			if !dns.IsNotFound(err) {
				v.logger.Debug("cname lookup failed",
					zap.String("host", current),
					zap.Int("hop", hop),
					zap.Error(err),
				)
			}
			break
		}
		target = dns.Normalize(target)
		if target == "" || seen[target] {
			break
		}
		chain = append(chain, target)
		seen[target] = true
		current = target
	}
	return chain
}

func (v *Verifier) checkDKIM(ctx context.Context, rec planner.Record) bool {
	want := dns.Normalize(rec.Value)
	for _, hop := range v.Chain(ctx, rec.Host) {
		if hop == want || v.inBase(hop) {
			return true
		}
	}
	return false
}

func (v *Verifier) inBase(host string) bool {
	base := v.cfg.DKIMTargetBase
	if base == "" {
		return false
	}
	return host == base || strings.HasSuffix(host, "."+base)
}

func (v *Verifier) checkDMARC(ctx context.Context, rec planner.Record) (bool, string) {
	host := dns.Normalize(rec.Host)
	if !dmarcHost.MatchString(host) {
		v.logger.Warn("refusing DMARC check outside _dmarc label", zap.String("host", host))
		return false, ""
	}

	txts, err := v.resolver.LookupTXT(ctx, host)
	if err != nil {
		if !dns.IsNotFound(err) {
			v.logger.Debug("txt lookup failed", zap.String("host", host), zap.Error(err))
		}
		return false, ""
	}

	for _, txt := range txts {
		if !dmarcMarker.MatchString(txt) {
			continue
		}
		var policy string
		if m := dmarcPolicy.FindStringSubmatch(txt); m != nil {
			policy = strings.ToLower(m[1])
		}
		return true, policy
	}
	return false, ""
}
