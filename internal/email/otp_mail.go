package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"
)

// Subjects for verification mail.
const (
	SubjectFirstIssue = "An account is trying to send email from your domain."
	SubjectRotated    = "Your domain verification code"
)

// OTPMail renders domain verification messages.
type OTPMail struct {
	Brand  string // product name shown in the message
	AppURL string // base URL of the web app; the deep link is built from it
}

// OTPMailData is the per-message input.
type OTPMailData struct {
	To        string
	Requester string // identity of the account that asked for verification
	Domain    string
	Code      string
	Subject   string
	Expires   time.Duration
}

type otpView struct {
	Brand     string
	Requester string
	Domain    string
	VerifyURL string
	Code      string
	Subject   string
	Expiry    string
	Year      int
}

var otpHTML = htmltemplate.Must(htmltemplate.New("otp.html").Parse(`<!doctype html>
<html><head><meta charset="utf-8"/><meta name="viewport" content="width=device-width, initial-scale=1"/><title>Verify Domain</title></head>
<body style="margin:0;padding:0;background:#efefef">
<table role="presentation" width="100%" style="background:#efefef" cellpadding="0" cellspacing="0"><tr><td align="center" style="padding:24px">
<table role="presentation" width="600" style="width:600px;max-width:100%" cellpadding="0" cellspacing="0">
<tr><td style="background:#fff;border-radius:4px;padding:32px 36px;border:1px solid #e8e8e8;font-family:system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial,sans-serif">
<div style="font-size:18px;font-weight:700;color:#222">{{.Brand}}</div>
<h1 style="margin:28px 0 10px 0;font-family:Georgia,'Times New Roman',Times,serif;font-size:28px;line-height:1.25;color:#141414">{{.Subject}}</h1>
<p style="margin:0 0 16px 0;font-size:16px;line-height:1.6;color:#333">
The {{.Brand}} account <strong>{{.Requester}}</strong> is attempting to use an email address at your domain
(<a href="https://{{.Domain}}" style="color:#007c89;text-decoration:none">{{.Domain}}</a>).
</p>
<p style="margin:0 0 24px 0;font-size:16px;line-height:1.6;color:#333">
Before the account can use this domain, you'll need to
<a href="{{.VerifyURL}}" style="color:#007c89;text-decoration:underline">verify that it's authorized</a>.
If you don't wish to authorize this domain, please disregard this message.
</p>
<p style="margin:8px 0 6px 0;font-size:14px;line-height:1.6;color:#555;text-align:center">Alternatively, enter this verification code into {{.Brand}}:</p>
<div style="text-align:center;font-family:'SFMono-Regular',Consolas,'Liberation Mono',Menlo,monospace;font-size:28px;font-weight:700;color:#141414;letter-spacing:1px;margin:4px 0 8px">{{.Code}}</div>
<p style="text-align:center;color:#777;font-size:12px">The code expires in {{.Expiry}}.</p>
<div style="text-align:center;color:#777;font-size:12px">&copy; {{.Year}} {{.Brand}}</div>
</td></tr></table>
</td></tr></table></body></html>
`))

var otpText = texttemplate.Must(texttemplate.New("otp.txt").Parse(`Your {{.Brand}} verification code for {{.Domain}}: {{.Code}}

The {{.Brand}} account {{.Requester}} is attempting to use an email address at {{.Domain}}.
Verify it here: {{.VerifyURL}}

The code expires in {{.Expiry}}. If you don't wish to authorize this domain, ignore this message.
`))

// Render builds the HTML and text bodies for a verification message.
func (m OTPMail) Render(d OTPMailData) (Message, error) {
	brand := m.Brand
	if brand == "" {
		brand = "Business Suite"
	}
	requester := d.Requester
	if requester == "" {
		requester = "your account"
	}
	subject := d.Subject
	if subject == "" {
		subject = SubjectFirstIssue
	}

	v := otpView{
		Brand:     brand,
		Requester: requester,
		Domain:    d.Domain,
		VerifyURL: m.verifyURL(d.Domain),
		Code:      d.Code,
		Subject:   subject,
		Expiry:    humanDuration(d.Expires),
		Year:      time.Now().Year(),
	}

	var html, text bytes.Buffer
	if err := otpHTML.Execute(&html, v); err != nil {
		return Message{}, fmt.Errorf("render otp html: %w", err)
	}
	if err := otpText.Execute(&text, v); err != nil {
		return Message{}, fmt.Errorf("render otp text: %w", err)
	}
	return Message{To: d.To, Subject: subject, HTML: html.String(), Text: text.String()}, nil
}

func (m OTPMail) verifyURL(domain string) string {
	base := strings.TrimRight(m.AppURL, "/")
	if base == "" {
		base = "https://app.example.com"
	}
	return base + "/integrations/email-domains?open=otp&domain=" + url.QueryEscape(domain)
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d >= time.Hour && d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d >= time.Minute:
		mins := int(d / time.Minute)
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
	return d.String()
}
