package service

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jmerrifield20/senderauth/internal/dns"
)

// DefaultBlockedDomains are public mailbox providers that cannot prove
// control of a business domain.
var DefaultBlockedDomains = []string{
	"gmail.com", "googlemail.com", "yahoo.com", "ymail.com", "rocketmail.com",
	"outlook.com", "hotmail.com", "live.com", "msn.com", "icloud.com", "me.com", "mac.com",
	"proton.me", "protonmail.com", "aol.com", "mail.com", "zoho.com", "yandex.com",
}

var validate = validator.New()

// mailboxChecker normalizes submitted addresses and rejects public providers.
type mailboxChecker struct {
	blocked map[string]struct{}
}

func newMailboxChecker(blocked []string) mailboxChecker {
	if len(blocked) == 0 {
		blocked = DefaultBlockedDomains
	}
	m := make(map[string]struct{}, len(blocked))
	for _, d := range blocked {
		m[dns.Normalize(d)] = struct{}{}
	}
	return mailboxChecker{blocked: m}
}

// parse returns the lowercased address and its domain.
func (c mailboxChecker) parse(raw string) (email, domain string, err error) {
	email = strings.ToLower(strings.TrimSpace(raw))
	if err := validate.Var(email, "required,email"); err != nil {
		return "", "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	at := strings.LastIndex(email, "@")
	domain = dns.Normalize(email[at+1:])
	if domain == "" || !strings.Contains(domain, ".") {
		return "", "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if _, ok := c.blocked[domain]; ok {
		return "", "", ErrFreeMailbox
	}
	return email, domain, nil
}
