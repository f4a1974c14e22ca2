package model_test

import (
	"testing"
	"time"

	"github.com/jmerrifield20/senderauth/internal/domainauth/model"
)

func ptr[T any](v T) *T { return &v }

func TestAddMailbox_CaseInsensitive(t *testing.T) {
	d := &model.DomainAuth{}
	if !d.AddMailbox("Ops@Example.com") {
		t.Fatal("first add should report new")
	}
	if d.AddMailbox("ops@example.COM ") {
		t.Error("differently-cased duplicate should not be added")
	}
	if !d.AddMailbox("billing@example.com") {
		t.Error("distinct mailbox should be added")
	}
	if len(d.KnownMailboxes) != 2 || d.KnownMailboxes[0] != "ops@example.com" {
		t.Errorf("KnownMailboxes = %v", d.KnownMailboxes)
	}
}

func TestChallenge_SetClearTogether(t *testing.T) {
	d := &model.DomainAuth{}
	if d.HasChallenge() {
		t.Fatal("zero value has no challenge")
	}
	d.SetChallenge("hash", time.Now().Add(time.Hour))
	if !d.HasChallenge() {
		t.Fatal("challenge should be set")
	}
	d.ClearChallenge()
	if d.OTPHash != "" || d.OTPExpiresAt != nil {
		t.Errorf("challenge not fully cleared: %q %v", d.OTPHash, d.OTPExpiresAt)
	}
}

func TestClone_Deep(t *testing.T) {
	exp := time.Now()
	d := &model.DomainAuth{
		KnownMailboxes: []string{"a@example.com"},
		OTPExpiresAt:   &exp,
		Provider:       &model.ProviderMeta{ProviderID: "godaddy", DetectedNameservers: []string{"ns1.domaincontrol.com"}},
	}
	cp := d.Clone()
	cp.KnownMailboxes[0] = "changed"
	*cp.OTPExpiresAt = exp.Add(time.Hour)
	cp.Provider.DetectedNameservers[0] = "changed"

	if d.KnownMailboxes[0] != "a@example.com" || !d.OTPExpiresAt.Equal(exp) || d.Provider.DetectedNameservers[0] != "ns1.domaincontrol.com" {
		t.Error("Clone shares state with the original")
	}
}

func TestMergeProvider_KeepsUnpatchedFields(t *testing.T) {
	existing := &model.ProviderMeta{
		ProviderID:   "cloudflare",
		ProviderName: "Cloudflare",
		Connected:    true,
	}
	got := model.MergeProvider(existing, model.ProviderPatch{
		DetectedNameservers: []string{"amy.ns.cloudflare.com"},
	})
	if !got.Connected {
		t.Error("connected flag must survive re-detection")
	}
	if got.ProviderID != "cloudflare" || len(got.DetectedNameservers) != 1 {
		t.Errorf("merged = %+v", got)
	}
	if existing.DetectedNameservers != nil {
		t.Error("existing must not be mutated")
	}

	got = model.MergeProvider(got, model.ProviderPatch{ProviderID: ptr("godaddy"), Connected: ptr(false)})
	if got.ProviderID != "godaddy" || got.Connected || got.ProviderName != "Cloudflare" {
		t.Errorf("merged = %+v", got)
	}
}

func TestMergeProvider_NilExisting(t *testing.T) {
	got := model.MergeProvider(nil, model.ProviderPatch{ProviderID: ptr("wix")})
	if got == nil || got.ProviderID != "wix" {
		t.Fatalf("got %+v", got)
	}
}

func TestStatusValid(t *testing.T) {
	if !model.StatusFailed.Valid() || model.Status("paused").Valid() {
		t.Error("Valid misclassifies statuses")
	}
}
