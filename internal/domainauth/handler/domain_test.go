package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmerrifield20/senderauth/internal/dns"
	"github.com/jmerrifield20/senderauth/internal/domainauth/handler"
	"github.com/jmerrifield20/senderauth/internal/domainauth/repository"
	"github.com/jmerrifield20/senderauth/internal/domainauth/service"
	"github.com/jmerrifield20/senderauth/internal/email"
	"github.com/jmerrifield20/senderauth/internal/identity"
	"github.com/jmerrifield20/senderauth/internal/otp"
	"github.com/jmerrifield20/senderauth/internal/planner"
	"github.com/jmerrifield20/senderauth/internal/provider"
	"github.com/jmerrifield20/senderauth/internal/verifier"
)

// ── Fake mail sender ─────────────────────────────────────────────────────

type fakeSender struct {
	mu   sync.Mutex
	sent []email.Message
	fail error
}

func (f *fakeSender) Send(_ context.Context, msg email.Message) (*email.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.sent = append(f.sent, msg)
	return &email.Delivery{MessageID: "<test>", Accepted: time.Now()}, nil
}

var codeRE = regexp.MustCompile(`verification code for [^:]+: (\d{6})`)

func (f *fakeSender) lastCode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no mail sent")
	}
	m := codeRE.FindStringSubmatch(f.sent[len(f.sent)-1].Text)
	if m == nil {
		t.Fatal("no code in last message")
	}
	return m[1]
}

// ── Harness ──────────────────────────────────────────────────────────────

const dkimBase = "dkim.provider.example"

type testServer struct {
	router   *gin.Engine
	sender   *fakeSender
	resolver *dns.MockResolver
}

func newTestServer(t *testing.T, account string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		sender: &fakeSender{},
		resolver: &dns.MockResolver{
			CNAME: map[string]string{},
			TXT:   map[string][]string{},
			NS:    map[string][]string{"example.com": {"kate.ns.cloudflare.com", "rob.ns.cloudflare.com"}},
		},
	}
	pl, err := planner.New(planner.Config{
		Selectors:      []string{"k1", "k2"},
		DKIMTargetBase: dkimBase,
		RUAMode:        planner.RUAPerDomain,
		TTL:            3600,
	})
	if err != nil {
		t.Fatalf("planner.New: %v", err)
	}
	logger := zap.NewNop()
	svc := service.New(
		repository.NewMemoryRepository(),
		otp.NewIssuer(otp.Config{BcryptCost: bcrypt.MinCost}),
		ts.sender,
		provider.NewDetector(ts.resolver, logger),
		pl,
		verifier.New(ts.resolver, verifier.Config{DKIMTargetBase: dkimBase}, logger),
		logger,
	)

	r := gin.New()
	api := r.Group("/api/v1", identity.WithAccount(account))
	handler.NewDomainHandler(svc, logger).Register(api)
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

// submitAndVerify walks a domain through mailbox proof and returns its id.
func (ts *testServer) submitAndVerify(t *testing.T, addr string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": addr})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id := decode(t, w)["id"].(string)
	w = ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/otp/verify", map[string]string{"code": ts.sender.lastCode(t)})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	return id
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestSubmit_CreatesPendingDomain(t *testing.T) {
	ts := newTestServer(t, "acct_1")

	w := ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": "Ops@Example.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["domain"] != "example.com" || body["status"] != "verification_pending" {
		t.Errorf("unexpected body: %v", body)
	}
	if body["otpPending"] != true {
		t.Error("expected otpPending=true")
	}
	if strings.Contains(w.Body.String(), "$2a$") || strings.Contains(w.Body.String(), "otpHash") {
		t.Error("response must not expose the code hash")
	}
}

func TestSubmit_BadInput(t *testing.T) {
	ts := newTestServer(t, "acct_1")

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing", map[string]string{}, "Invalid email"},
		{"malformed", map[string]string{"email": "not-an-email"}, ""},
		{"free mailbox", map[string]string{"email": "me@gmail.com"}, "Use a business email (no public providers)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/email/domains", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if tt.want != "" && decode(t, w)["error"] != tt.want {
				t.Errorf("error = %v, want %q", decode(t, w)["error"], tt.want)
			}
		})
	}
}

func TestSubmit_SameMailboxIsMasked409(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": "ops@example.com"})

	w := ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": "ops@example.com"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	body := decode(t, w)
	if body["code"] != "email_already_pending" || body["error"] != service.BounceMessage("ops@example.com") {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestSubmit_DeliveryFailureIs502(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	ts.sender.fail = errors.New("relay down")

	w := ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": "ops@example.com"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/api/v1/email/domains", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("nothing should be persisted, got %s", w.Body.String())
	}
}

func TestVerify_WrongCode(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	w := ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": "ops@example.com"})
	id := decode(t, w)["id"].(string)

	code := ts.sender.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	w = ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/otp/verify", map[string]string{"code": wrong})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if body := decode(t, w); body["code"] != "otp_invalid" || body["error"] != "Invalid code." {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestVerify_LockedAfterRepeatedMisses(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	w := ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": "ops@example.com"})
	id := decode(t, w)["id"].(string)

	code := ts.sender.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	for i := 0; i < otp.DefaultMaxAttempts; i++ {
		ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/otp/verify", map[string]string{"code": wrong})
	}
	w = ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/otp/verify", map[string]string{"code": code})
	if w.Code != http.StatusBadRequest || decode(t, w)["code"] != "otp_locked" {
		t.Errorf("expected 400 otp_locked, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerify_AgainAfterSuccessIsExpired(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	id := ts.submitAndVerify(t, "ops@example.com")

	w := ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/otp/verify", map[string]string{"code": ts.sender.lastCode(t)})
	if w.Code != http.StatusBadRequest || decode(t, w)["code"] != "otp_expired" {
		t.Errorf("expected 400 otp_expired, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerify_ThenResendIsNotPending(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	id := ts.submitAndVerify(t, "ops@example.com")

	w := ts.do(t, http.MethodGet, "/api/v1/email/domains/"+id, nil)
	if body := decode(t, w); body["status"] != "auth_required" || body["otpPending"] != false {
		t.Errorf("unexpected body after verify: %v", body)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/otp/resend", nil)
	if w.Code != http.StatusConflict || decode(t, w)["code"] != "not_pending" {
		t.Errorf("expected 409 not_pending, got %d: %s", w.Code, w.Body.String())
	}
}

func TestResend_Pending(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	w := ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": "ops@example.com"})
	id := decode(t, w)["id"].(string)

	w = ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/otp/resend", nil)
	if w.Code != http.StatusOK || decode(t, w)["ok"] != true {
		t.Fatalf("expected 200 ok, got %d: %s", w.Code, w.Body.String())
	}
	if len(ts.sender.sent) != 2 {
		t.Errorf("expected 2 messages, got %d", len(ts.sender.sent))
	}
}

func TestStartAuth_RequiresVerifiedMailbox(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	w := ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": "ops@example.com"})
	id := decode(t, w)["id"].(string)

	w = ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/start-auth", nil)
	if w.Code != http.StatusConflict || decode(t, w)["code"] != "mailbox_unverified" {
		t.Errorf("expected 409 mailbox_unverified, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStartAuthAndRecheck(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	id := ts.submitAndVerify(t, "ops@example.com")

	w := ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/start-auth", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start-auth: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != "auth_in_progress" {
		t.Errorf("status = %v", body["status"])
	}
	if p := body["provider"].(map[string]any); p["providerId"] != "cloudflare" {
		t.Errorf("provider = %v", p)
	}
	if recs := body["records"].([]any); len(recs) != 3 {
		t.Errorf("expected 3 planned records, got %d", len(recs))
	}
	if body["dmarcPolicy"] != nil {
		t.Errorf("dmarcPolicy = %v, want null", body["dmarcPolicy"])
	}

	ts.resolver.CNAME["k1._domainkey.example.com"] = "k1." + dkimBase
	ts.resolver.TXT["_dmarc.example.com"] = []string{"v=DMARC1; p=quarantine"}

	w = ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/recheck-dns", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recheck: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body = decode(t, w)
	if body["status"] != "authenticated" || body["dmarcPolicy"] != "quarantine" || body["ready"] != true {
		t.Errorf("unexpected recheck body: %v", body)
	}
}

func TestSetProvider(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	id := ts.submitAndVerify(t, "ops@example.com")

	w := ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/provider", map[string]string{"providerId": "nope"})
	if w.Code != http.StatusBadRequest || decode(t, w)["error"] != "Unknown providerId" {
		t.Errorf("expected 400 Unknown providerId, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/provider", map[string]string{"providerId": "aws-route53"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["ok"] != true || body["provider"].(map[string]any)["providerId"] != "aws-route53" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestDisconnect(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	id := ts.submitAndVerify(t, "ops@example.com")
	ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/start-auth", nil)

	w := ts.do(t, http.MethodPost, "/api/v1/email/domains/"+id+"/disconnect", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "auth_required" || body["provider"] != nil {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestDomain_NotFound(t *testing.T) {
	ts := newTestServer(t, "acct_1")

	paths := []string{
		"/api/v1/email/domains/" + uuid.NewString(),
		"/api/v1/email/domains/not-a-uuid",
	}
	for _, p := range paths {
		w := ts.do(t, http.MethodGet, p, nil)
		if w.Code != http.StatusNotFound || decode(t, w)["error"] != "Domain not found" {
			t.Errorf("GET %s: expected 404, got %d: %s", p, w.Code, w.Body.String())
		}
	}
	w := ts.do(t, http.MethodPost, "/api/v1/email/domains/"+uuid.NewString()+"/recheck-dns", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("recheck unknown: expected 404, got %d", w.Code)
	}
}

func TestListMailboxes(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": "ops@example.com"})

	w := ts.do(t, http.MethodGet, "/api/v1/email/domains/domain-emails", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rows []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0]["email"] != "ops@example.com" || rows[0]["domainStatus"] != "verification_pending" {
		t.Errorf("unexpected rows: %v", rows)
	}
}

func TestListProviders(t *testing.T) {
	ts := newTestServer(t, "acct_1")
	w := ts.do(t, http.MethodGet, "/api/v1/email/providers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var catalog []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &catalog); err != nil {
		t.Fatal(err)
	}
	if len(catalog) != len(provider.All()) {
		t.Errorf("catalog size = %d", len(catalog))
	}
}

func TestOTPLimiter_AppliesToCodeRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ts := newTestServer(t, "acct_1")

	// Rebuild with a limiter of one request and no refill.
	r := gin.New()
	api := r.Group("/api/v1", identity.WithAccount("acct_1"))
	logger := zap.NewNop()
	pl, _ := planner.New(planner.Config{Selectors: []string{"k1"}, DKIMTargetBase: dkimBase, RUAMode: planner.RUAPerDomain})
	svc := service.New(repository.NewMemoryRepository(), otp.NewIssuer(otp.Config{BcryptCost: bcrypt.MinCost}),
		ts.sender, provider.NewDetector(ts.resolver, logger), pl,
		verifier.New(ts.resolver, verifier.Config{DKIMTargetBase: dkimBase}, logger), logger)
	h := handler.NewDomainHandler(svc, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.SetOTPLimiter(handler.RateLimiter(ctx, 0.0001, 1, handler.ByAccount))
	h.Register(api)
	ts.router = r

	if w := ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": "ops@example.com"}); w.Code != http.StatusCreated {
		t.Fatalf("first submit: expected 201, got %d", w.Code)
	}
	w := ts.do(t, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": "billing@example.com"})
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Errorf("second submit: expected 429 with Retry-After, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/email/domains", nil); w.Code != http.StatusOK {
		t.Errorf("listing must not be limited, got %d", w.Code)
	}
}
