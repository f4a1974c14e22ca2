package email

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestOTPMail_Render(t *testing.T) {
	m := OTPMail{Brand: "Acme", AppURL: "https://app.acme.test/"}
	msg, err := m.Render(OTPMailData{
		To:        "ops@example.com",
		Requester: "owner@acme.test",
		Domain:    "example.com",
		Code:      "123456",
		Expires:   42 * time.Hour,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if msg.Subject != SubjectFirstIssue || msg.To != "ops@example.com" {
		t.Errorf("subject/to = %q/%q", msg.Subject, msg.To)
	}
	for _, want := range []string{"123456", "example.com", "owner@acme.test",
		"https://app.acme.test/integrations/email-domains?open=otp&amp;domain=example.com", "42 hours"} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if !strings.HasPrefix(msg.Text, "Your Acme verification code for example.com: 123456") {
		t.Errorf("text = %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "42 hours") {
		t.Errorf("text missing expiry: %q", msg.Text)
	}
}

func TestOTPMail_EscapesRequester(t *testing.T) {
	msg, err := OTPMail{}.Render(OTPMailData{Domain: "example.com", Code: "111111", Requester: "<script>x</script>"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Error("requester must be HTML-escaped")
	}
}

func TestHumanDuration(t *testing.T) {
	tests := map[time.Duration]string{
		10 * time.Minute: "10 minutes",
		time.Minute:      "1 minute",
		time.Hour:        "1 hour",
		42 * time.Hour:   "42 hours",
		90 * time.Minute: "90 minutes",
	}
	for d, want := range tests {
		if got := humanDuration(d); got != want {
			t.Errorf("humanDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestNoopSender_DoesNotLogBody(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewNoopSender(zap.New(core))

	d, err := s.Send(context.Background(), Message{To: "ops@example.com", Subject: "hi", HTML: "<b>654321</b>", Text: "654321"})
	if err != nil || d.MessageID == "" {
		t.Fatalf("Send = %+v, %v", d, err)
	}
	for _, entry := range logs.All() {
		for _, f := range entry.Context {
			if strings.Contains(f.String, "654321") {
				t.Fatalf("log field %q leaked the body", f.Key)
			}
		}
	}
}

// fakeSMTP accepts one message and hands its DATA section to the channel.
func fakeSMTP(t *testing.T) (host string, port int, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	ch := make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { conn.Write([]byte(s + "\r\n")) }

		write("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				write("250-localhost")
				write("250 8BITMIME")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				write("250 OK")
			case cmd == "DATA":
				write("354 go ahead")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				ch <- b.String()
				write("250 queued")
			case cmd == "QUIT":
				write("221 bye")
				return
			default:
				write("250 OK")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port, ch
}

func TestSMTPSender_Send(t *testing.T) {
	host, port, data := fakeSMTP(t)
	s := NewSMTPSender(SMTPConfig{Host: host, Port: port, From: "noreply@acme.test", FromName: "Acme", Timeout: 2 * time.Second})

	d, err := s.Send(context.Background(), Message{
		To:      "ops@example.com",
		Subject: SubjectRotated,
		HTML:    "<p>code 222333</p>",
		Text:    "code 222333",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if d.MessageID == "" || d.Accepted.IsZero() {
		t.Errorf("delivery = %+v", d)
	}

	select {
	case raw := <-data:
		for _, want := range []string{
			"To: ops@example.com",
			"Message-ID: " + d.MessageID,
			"Content-Type: multipart/alternative; boundary=",
			"text/plain; charset=UTF-8",
			"text/html; charset=UTF-8",
			"<p>code 222333</p>",
		} {
			if !strings.Contains(raw, want) {
				t.Errorf("message missing %q", want)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received DATA")
	}
}

func TestSMTPSender_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: port, From: "a@b.test", Timeout: time.Second})
	if _, err := s.Send(context.Background(), Message{To: "x@example.com", Text: "x"}); err == nil {
		t.Error("expected dial error")
	}
}
