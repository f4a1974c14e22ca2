package identity_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/senderauth/internal/identity"
)

const testIssuer = "https://senderauth.test"

func newTestIssuer(t *testing.T, ttl time.Duration) *identity.TokenIssuer {
	t.Helper()
	ti, err := identity.NewTokenIssuer("test-secret", testIssuer, ttl)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return ti
}

func TestNewTokenIssuer_requiresSecret(t *testing.T) {
	if _, err := identity.NewTokenIssuer("", testIssuer, time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestTokenIssuer_roundTrip(t *testing.T) {
	ti := newTestIssuer(t, time.Hour)

	token, err := ti.Issue("acct_1", "owner@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.AccountID != "acct_1" || claims.Email != "owner@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti := newTestIssuer(t, -time.Minute)
	token, err := ti.Issue("acct_1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestTokenIssuer_Verify_wrongSecretOrIssuer(t *testing.T) {
	ti := newTestIssuer(t, time.Hour)
	token, _ := ti.Issue("acct_1", "")

	other, _ := identity.NewTokenIssuer("other-secret", testIssuer, time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Error("expected error for wrong secret")
	}
	elsewhere, _ := identity.NewTokenIssuer("test-secret", "https://elsewhere.test", time.Hour)
	if _, err := elsewhere.Verify(token); err == nil {
		t.Error("expected error for wrong issuer")
	}
}

func TestTokenIssuer_Issue_requiresAccount(t *testing.T) {
	ti := newTestIssuer(t, time.Hour)
	if _, err := ti.Issue("", ""); err == nil {
		t.Error("expected error for empty account id")
	}
}

func TestRequireAccount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ti := newTestIssuer(t, time.Hour)

	r := gin.New()
	r.GET("/me", identity.RequireAccount(ti), func(c *gin.Context) {
		c.String(http.StatusOK, identity.AccountID(c))
	})

	token, _ := ti.Issue("acct_42", "")
	tests := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"no header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage", "Bearer nope", http.StatusUnauthorized, ""},
		{"valid", "Bearer " + token, http.StatusOK, "acct_42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}
