package model

import "slices"

// ProviderMeta is the last known DNS host for a domain.
type ProviderMeta struct {
	ProviderID          string   `json:"providerId,omitempty"`
	ProviderName        string   `json:"providerName,omitempty"`
	HelpURL             string   `json:"helpUrl,omitempty"`
	Suspected           string   `json:"suspected,omitempty"`
	Connected           bool     `json:"connected"`
	DetectedNameservers []string `json:"detectedNameservers,omitempty"`
}

// Clone returns a deep copy.
func (p ProviderMeta) Clone() ProviderMeta {
	p.DetectedNameservers = slices.Clone(p.DetectedNameservers)
	return p
}

// ProviderPatch carries the fields an update wants to set. Nil fields are
// left untouched by Merge.
type ProviderPatch struct {
	ProviderID          *string
	ProviderName        *string
	HelpURL             *string
	Suspected           *string
	Connected           *bool
	DetectedNameservers []string // nil keeps the stored list
}

// MergeProvider applies patch on top of existing and returns the result.
// existing may be nil. Fields absent from the patch survive.
func MergeProvider(existing *ProviderMeta, patch ProviderPatch) *ProviderMeta {
	var out ProviderMeta
	if existing != nil {
		out = existing.Clone()
	}
	if patch.ProviderID != nil {
		out.ProviderID = *patch.ProviderID
	}
	if patch.ProviderName != nil {
		out.ProviderName = *patch.ProviderName
	}
	if patch.HelpURL != nil {
		out.HelpURL = *patch.HelpURL
	}
	if patch.Suspected != nil {
		out.Suspected = *patch.Suspected
	}
	if patch.Connected != nil {
		out.Connected = *patch.Connected
	}
	if patch.DetectedNameservers != nil {
		out.DetectedNameservers = slices.Clone(patch.DetectedNameservers)
	}
	return &out
}
