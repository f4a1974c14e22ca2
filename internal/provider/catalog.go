// Package provider guesses which DNS host operates a domain by matching its
// delegated nameservers against known naming conventions.
package provider

import (
	"regexp"
	"sort"
)

// Provider is a DNS host the product knows how to give instructions for.
type Provider struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	HelpURL string `json:"helpUrl"`
}

// catalog is shared by detection and manual provider selection so both use
// the same ids.
var catalog = map[string]Provider{
	"godaddy":          {ID: "godaddy", Name: "GoDaddy", HelpURL: "https://in.godaddy.com/help/add-a-cname-record-19236"},
	"cloudflare":       {ID: "cloudflare", Name: "Cloudflare", HelpURL: "https://developers.cloudflare.com/dns/manage-dns-records/how-to/create-dns-records/"},
	"google-cloud-dns": {ID: "google-cloud-dns", Name: "Google Cloud DNS", HelpURL: "https://cloud.google.com/dns/docs"},
	"namecheap":        {ID: "namecheap", Name: "Namecheap", HelpURL: "https://www.namecheap.com/support/knowledgebase/category/1414/dns-and-host-records/"},
	"aws-route53":      {ID: "aws-route53", Name: "AWS Route 53", HelpURL: "https://docs.aws.amazon.com/Route53/latest/DeveloperGuide/resource-record-sets-creating.html"},
	"bluehost":         {ID: "bluehost", Name: "Bluehost", HelpURL: "https://www.bluehost.com/help/article/dns-management"},
	"hostgator":        {ID: "hostgator", Name: "HostGator", HelpURL: "https://www.hostgator.com/help/article/how-to-manage-dns-records"},
	"dreamhost":        {ID: "dreamhost", Name: "DreamHost", HelpURL: "https://help.dreamhost.com/hc/en-us/articles/215747758-Adding-custom-DNS-records"},
	"digitalocean":     {ID: "digitalocean", Name: "DigitalOcean", HelpURL: "https://docs.digitalocean.com/products/networking/dns/how-to/manage-records/"},
	"wix":              {ID: "wix", Name: "Wix", HelpURL: "https://support.wix.com/en/article/adding-or-updating-dns-records-in-your-wix-account"},
	"squarespace":      {ID: "squarespace", Name: "Squarespace", HelpURL: "https://support.squarespace.com/hc/en-us/articles/205812378-Adding-custom-records-to-your-domain"},
	"name.com":         {ID: "name.com", Name: "Name.com", HelpURL: "https://www.name.com/support/articles/205188198-DNS-Record-Types-and-How-to-Edit"},
	"ionos":            {ID: "ionos", Name: "IONOS (1&1)", HelpURL: "https://www.ionos.com/help/domains/configure-dns-settings/dns-records/"},
	"hostinger":        {ID: "hostinger", Name: "Hostinger", HelpURL: "https://support.hostinger.com/en/articles/1585316-how-to-manage-dns-records"},
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (Provider, bool) {
	p, ok := catalog[id]
	return p, ok
}

// All returns every catalog entry ordered by id.
func All() []Provider {
	out := make([]Provider, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// signature maps a nameserver naming convention to a catalog id. All
// patterns are matched against normalized (lowercase, no trailing dot)
// hostnames.
type signature struct {
	id      string
	pattern *regexp.Regexp
	// also, when set, must match as well.
	also *regexp.Regexp
}

func (s signature) match(host string) bool {
	if !s.pattern.MatchString(host) {
		return false
	}
	return s.also == nil || s.also.MatchString(host)
}

// signatures is ordered; the first matching entry wins. The name.com rule
// is anchored on a label boundary, otherwise any host ending in "...name.com"
// would match.
var signatures = []signature{
	{id: "godaddy", pattern: regexp.MustCompile(`domaincontrol\.com$`)},
	{id: "cloudflare", pattern: regexp.MustCompile(`cloudflare\.com$`)},
	{id: "google-cloud-dns", pattern: regexp.MustCompile(`(google(domains)?\.com|googledomains\.com)$`), also: regexp.MustCompile(`ns-?cloud`)},
	{id: "namecheap", pattern: regexp.MustCompile(`(registrar-servers\.com|namecheaphosting\.com)$`)},
	{id: "aws-route53", pattern: regexp.MustCompile(`awsdns-\d+\.(com|net|org|co\.uk)$`)},
	{id: "digitalocean", pattern: regexp.MustCompile(`digitalocean\.com$`)},
	{id: "bluehost", pattern: regexp.MustCompile(`bluehost\.com$`)},
	{id: "hostgator", pattern: regexp.MustCompile(`(hostgator\.com|websitewelcome\.com)$`)},
	{id: "dreamhost", pattern: regexp.MustCompile(`dreamhost\.com$`)},
	{id: "wix", pattern: regexp.MustCompile(`(wixdns\.net|wix\.com)$`)},
	{id: "squarespace", pattern: regexp.MustCompile(`squarespacedns\.com$`)},
	{id: "name.com", pattern: regexp.MustCompile(`(^|\.)name\.com$`)},
	{id: "ionos", pattern: regexp.MustCompile(`ui-dns\.(de|com|org|biz)$`)},
	{id: "hostinger", pattern: regexp.MustCompile(`(hostinger|hostingerdns)\.(com|in|eu|net|co)$`)},
	{id: "hostinger", pattern: regexp.MustCompile(`dns-parking\.com$`)},
}

// Match returns the provider for the first signature that matches any of
// the given nameservers. Hostnames must already be normalized.
func Match(nameservers []string) (Provider, bool) {
	for _, sig := range signatures {
		for _, ns := range nameservers {
			if sig.match(ns) {
				return catalog[sig.id], true
			}
		}
	}
	return Provider{}, false
}
