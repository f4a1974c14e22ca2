package planner_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jmerrifield20/senderauth/internal/planner"
)

func exampleConfig() planner.Config {
	return planner.Config{
		Selectors:      []string{"k1", "k2"},
		DKIMTargetBase: "dkim.provider.example",
		RUAMode:        planner.RUAPerDomain,
		TTL:            3600,
	}
}

func mustPlanner(t *testing.T, cfg planner.Config) *planner.Planner {
	t.Helper()
	p, err := planner.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestPlan_Example(t *testing.T) {
	p := mustPlanner(t, exampleConfig())
	recs := p.Plan("example.com")

	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}

	want := []struct{ kind, typ, host, value string }{
		{planner.KindDKIM, "CNAME", "k1._domainkey.example.com", "k1.dkim.provider.example."},
		{planner.KindDKIM, "CNAME", "k2._domainkey.example.com", "k2.dkim.provider.example."},
		{planner.KindDMARC, "TXT", "_dmarc.example.com", "v=DMARC1; p=none; rua=mailto:dmarc@example.com; fo=1; sp=none"},
	}
	for i, w := range want {
		r := recs[i]
		if r.Kind != w.kind || r.Type != w.typ || r.Host != w.host || r.Value != w.value {
			t.Errorf("record %d = %+v, want %+v", i, r, w)
		}
		if r.Found {
			t.Errorf("record %d: found must start false", i)
		}
		if !r.Required {
			t.Errorf("record %d: expected required", i)
		}
		if r.TTL != 3600 || r.Note == "" {
			t.Errorf("record %d: ttl=%d note=%q", i, r.TTL, r.Note)
		}
	}
}

func TestPlan_Deterministic(t *testing.T) {
	p := mustPlanner(t, exampleConfig())
	a, _ := json.Marshal(p.Plan("Example.COM."))
	b, _ := json.Marshal(p.Plan("example.com"))
	if string(a) != string(b) {
		t.Errorf("plans differ:\n%s\n%s", a, b)
	}
}

func TestPlan_CentralRUA(t *testing.T) {
	cfg := exampleConfig()
	cfg.RUAMode = planner.RUACentral
	cfg.RUA = "mailto:reports@platform.example"
	recs := mustPlanner(t, cfg).Plan("example.com")

	dmarc := recs[len(recs)-1]
	if !strings.Contains(dmarc.Value, "rua=mailto:reports@platform.example;") {
		t.Errorf("DMARC value = %q", dmarc.Value)
	}
}

func TestPlan_SecondSelectorOptional(t *testing.T) {
	cfg := exampleConfig()
	cfg.SecondSelectorOptional = true
	recs := mustPlanner(t, cfg).Plan("example.com")
	if !recs[0].Required || recs[1].Required {
		t.Errorf("required flags = %v, %v", recs[0].Required, recs[1].Required)
	}
	if !recs[2].Required {
		t.Error("DMARC must stay required")
	}
}

func TestPlan_BaseNormalized(t *testing.T) {
	cfg := exampleConfig()
	cfg.DKIMTargetBase = "DKIM.Provider.Example."
	recs := mustPlanner(t, cfg).Plan("example.com")
	if recs[0].Value != "k1.dkim.provider.example." {
		t.Errorf("value = %q", recs[0].Value)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*planner.Config)
	}{
		{"no selectors", func(c *planner.Config) { c.Selectors = nil }},
		{"dotted selector", func(c *planner.Config) { c.Selectors = []string{"k1.bad"} }},
		{"no base", func(c *planner.Config) { c.DKIMTargetBase = "" }},
		{"central without rua", func(c *planner.Config) { c.RUAMode = planner.RUACentral }},
		{"central bad rua", func(c *planner.Config) { c.RUAMode = planner.RUACentral; c.RUA = "reports@example.com" }},
		{"unknown mode", func(c *planner.Config) { c.RUAMode = "sometimes" }},
		{"negative ttl", func(c *planner.Config) { c.TTL = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := exampleConfig()
			tt.mutate(&cfg)
			if _, err := planner.New(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := exampleConfig().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
