package dns_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	mdns "github.com/miekg/dns"

	"github.com/jmerrifield20/senderauth/internal/dns"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Example.COM.", "example.com"},
		{"  k1.dkim.provider.example.. ", "k1.dkim.provider.example"},
		{"", ""},
		{"already.clean", "already.clean"},
	}
	for _, tt := range tests {
		if got := dns.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestErrorHelpers(t *testing.T) {
	if !dns.IsNotFound(dns.ErrNotFound) {
		t.Error("ErrNotFound should be not-found")
	}
	if dns.IsNotFound(dns.ErrServFail) {
		t.Error("ErrServFail should not be not-found")
	}
	if !dns.IsTemporary(dns.ErrTimeout) || !dns.IsTemporary(dns.ErrServFail) {
		t.Error("timeout and servfail should be temporary")
	}
}

func TestMockResolver(t *testing.T) {
	m := &dns.MockResolver{
		CNAME: map[string]string{"K1._domainkey.Example.com.": "k1.dkim.provider.example."},
		TXT:   map[string][]string{"_dmarc.example.com": {"v=DMARC1; p=none"}},
		NS:    map[string][]string{"example.com": {"NS2.domaincontrol.com.", "ns1.domaincontrol.com"}},
		Fail:  []string{"txt broken.example.com"},
	}
	ctx := context.Background()

	target, err := m.LookupCNAME(ctx, "k1._domainkey.example.com")
	if err != nil || target != "k1.dkim.provider.example" {
		t.Fatalf("LookupCNAME = %q, %v", target, err)
	}

	if _, err := m.LookupCNAME(ctx, "missing.example.com"); !dns.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	if _, err := m.LookupTXT(ctx, "broken.example.com"); !errors.Is(err, dns.ErrServFail) {
		t.Errorf("expected servfail, got %v", err)
	}

	ns, err := m.LookupNS(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(ns) != 2 || ns[0] != "ns1.domaincontrol.com" || ns[1] != "ns2.domaincontrol.com" {
		t.Errorf("LookupNS = %v", ns)
	}
	if m.Calls() != 4 {
		t.Errorf("Calls = %d, want 4", m.Calls())
	}
}

// ── miekg resolver against a local UDP server ──────────────────────────────

func startServer(t *testing.T, h mdns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	started := make(chan struct{})
	srv := &mdns.Server{PacketConn: pc, Handler: h, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func mustRR(s string) mdns.RR {
	rr, err := mdns.NewRR(s)
	if err != nil {
		panic(err)
	}
	return rr
}

func zoneHandler() mdns.HandlerFunc {
	return func(w mdns.ResponseWriter, req *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		switch {
		case q.Qtype == mdns.TypeCNAME && q.Name == "k1._domainkey.example.com.":
			m.Answer = append(m.Answer, mustRR("k1._domainkey.example.com. 300 IN CNAME K1.dkim.provider.example."))
		case q.Qtype == mdns.TypeTXT && q.Name == "_dmarc.example.com.":
			m.Answer = append(m.Answer, mustRR(`_dmarc.example.com. 300 IN TXT "v=DMARC1; " "p=reject"`))
		case q.Qtype == mdns.TypeNS && q.Name == "example.com.":
			m.Answer = append(m.Answer,
				mustRR("example.com. 300 IN NS ns2.domaincontrol.com."),
				mustRR("example.com. 300 IN NS ns1.domaincontrol.com."),
			)
		case q.Name == "nxdomain.example.com.":
			m.SetRcode(req, mdns.RcodeNameError)
		case q.Name == "servfail.example.com.":
			m.SetRcode(req, mdns.RcodeServerFailure)
		}
		_ = w.WriteMsg(m)
	}
}

func TestMiekgResolver_Lookups(t *testing.T) {
	addr := startServer(t, zoneHandler())
	r := dns.NewMiekgResolver(dns.Config{Nameservers: []string{addr}, Timeout: time.Second})
	ctx := context.Background()

	target, err := r.LookupCNAME(ctx, "K1._domainkey.example.com")
	if err != nil {
		t.Fatalf("LookupCNAME: %v", err)
	}
	if target != "k1.dkim.provider.example" {
		t.Errorf("CNAME target = %q", target)
	}

	txts, err := r.LookupTXT(ctx, "_dmarc.example.com")
	if err != nil {
		t.Fatalf("LookupTXT: %v", err)
	}
	if len(txts) != 1 || txts[0] != "v=DMARC1; p=reject" {
		t.Errorf("TXT = %q", txts)
	}

	ns, err := r.LookupNS(ctx, "example.com")
	if err != nil {
		t.Fatalf("LookupNS: %v", err)
	}
	if len(ns) != 2 || ns[0] != "ns1.domaincontrol.com" {
		t.Errorf("NS = %v", ns)
	}
}

func TestMiekgResolver_ErrorCodes(t *testing.T) {
	addr := startServer(t, zoneHandler())
	r := dns.NewMiekgResolver(dns.Config{Nameservers: []string{addr}, Timeout: time.Second})
	ctx := context.Background()

	if _, err := r.LookupTXT(ctx, "nxdomain.example.com"); !dns.IsNotFound(err) {
		t.Errorf("nxdomain: expected ErrNotFound, got %v", err)
	}
	if _, err := r.LookupTXT(ctx, "servfail.example.com"); !errors.Is(err, dns.ErrServFail) {
		t.Errorf("servfail: expected ErrServFail, got %v", err)
	}
	// NOERROR with an empty answer section.
	if _, err := r.LookupCNAME(ctx, "plain.example.com"); !dns.IsNotFound(err) {
		t.Errorf("empty answer: expected ErrNotFound, got %v", err)
	}
}

func TestMiekgResolver_Timeout(t *testing.T) {
	addr := startServer(t, func(w mdns.ResponseWriter, req *mdns.Msg) {
		// never answer
	})
	r := dns.NewMiekgResolver(dns.Config{Nameservers: []string{addr}, Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := r.LookupTXT(context.Background(), "_dmarc.example.com")
	if !dns.IsTemporary(err) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("lookup took %v; per-query timeout not applied", elapsed)
	}
}

// startDualServer serves h over UDP and TCP on the same port.
func startDualServer(t *testing.T, h mdns.HandlerFunc) string {
	t.Helper()
	var (
		pc  net.PacketConn
		ln  net.Listener
		err error
	)
	for i := 0; i < 10; i++ {
		if ln, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
			t.Fatalf("listen tcp: %v", err)
		}
		if pc, err = net.ListenPacket("udp", ln.Addr().String()); err == nil {
			break
		}
		ln.Close()
	}
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}

	for _, srv := range []*mdns.Server{
		{PacketConn: pc, Handler: h},
		{Listener: ln, Handler: h},
	} {
		srv := srv
		started := make(chan struct{})
		srv.NotifyStartedFunc = func() { close(started) }
		go func() { _ = srv.ActivateAndServe() }()
		<-started
		t.Cleanup(func() { _ = srv.Shutdown() })
	}
	return ln.Addr().String()
}

// longDMARC builds a DMARC TXT record of roughly size bytes split into
// 200-byte strings.
func longDMARC(size int) (value string, rr mdns.RR) {
	value = "v=DMARC1; p=reject; rua=" + strings.Repeat("mailto:reports@example.com,", size/27)
	var parts []string
	for rest := value; rest != ""; {
		n := min(200, len(rest))
		parts = append(parts, rest[:n])
		rest = rest[n:]
	}
	return value, &mdns.TXT{
		Hdr: mdns.RR_Header{Name: "_dmarc.example.com.", Rrtype: mdns.TypeTXT, Class: mdns.ClassINET, Ttl: 300},
		Txt: parts,
	}
}

// truncatingHandler answers with rr and truncates UDP replies to the
// requester's advertised buffer, as a conforming server does.
func truncatingHandler(rr mdns.RR, udp, tcp *atomic.Int32) mdns.HandlerFunc {
	return func(w mdns.ResponseWriter, req *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetReply(req)
		m.Answer = append(m.Answer, rr)
		if _, ok := w.RemoteAddr().(*net.UDPAddr); ok {
			udp.Add(1)
			size := mdns.MinMsgSize
			if opt := req.IsEdns0(); opt != nil {
				size = int(opt.UDPSize())
			}
			m.Truncate(size)
		} else {
			tcp.Add(1)
		}
		_ = w.WriteMsg(m)
	}
}

func TestMiekgResolver_LongTXTFitsEDNSBuffer(t *testing.T) {
	var udp, tcp atomic.Int32
	want, rr := longDMARC(468)
	addr := startDualServer(t, truncatingHandler(rr, &udp, &tcp))
	r := dns.NewMiekgResolver(dns.Config{Nameservers: []string{addr}, Timeout: time.Second})

	txts, err := r.LookupTXT(context.Background(), "_dmarc.example.com")
	if err != nil {
		t.Fatalf("LookupTXT: %v", err)
	}
	if len(txts) != 1 || txts[0] != want {
		t.Errorf("TXT = %q", txts)
	}
	if tcp.Load() != 0 {
		t.Errorf("tcp queries = %d, want 0", tcp.Load())
	}
}

func TestMiekgResolver_TruncatedAnswerRetriesOverTCP(t *testing.T) {
	var udp, tcp atomic.Int32
	want, rr := longDMARC(6000)
	addr := startDualServer(t, truncatingHandler(rr, &udp, &tcp))
	r := dns.NewMiekgResolver(dns.Config{Nameservers: []string{addr}, Timeout: time.Second})

	txts, err := r.LookupTXT(context.Background(), "_dmarc.example.com")
	if err != nil {
		t.Fatalf("LookupTXT: %v", err)
	}
	if len(txts) != 1 || txts[0] != want {
		t.Errorf("TXT length = %d, want %d", len(strings.Join(txts, "")), len(want))
	}
	if udp.Load() != 1 || tcp.Load() != 1 {
		t.Errorf("udp/tcp queries = %d/%d, want 1/1", udp.Load(), tcp.Load())
	}
}
