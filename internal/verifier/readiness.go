package verifier

import "github.com/jmerrifield20/senderauth/internal/planner"

// Readiness is the aggregate view of one verification pass.
type Readiness struct {
	DMARC  bool   `json:"dmarc"`
	DKIM   bool   `json:"dkim"`
	Policy string `json:"dmarcPolicy,omitempty"`
}

// Ready reports whether the domain can be treated as authenticated: DMARC
// is published and at least one DKIM selector resolves.
func (r Readiness) Ready() bool { return r.DMARC && r.DKIM }

// Reduce computes readiness from a single pass of checked records.
func Reduce(recs []planner.Record) Readiness {
	var r Readiness
	for _, rec := range recs {
		if !rec.Found {
			continue
		}
		switch rec.Kind {
		case planner.KindDKIM:
			r.DKIM = true
		case planner.KindDMARC:
			r.DMARC = true
			if r.Policy == "" {
				r.Policy = rec.Policy
			}
		}
	}
	return r
}
