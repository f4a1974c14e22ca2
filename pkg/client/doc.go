// Package client is the Go SDK for the senderauth HTTP API.
//
// Every call is scoped to the account named by the bearer token:
//
//	c, err := client.New("https://senderauth.internal:8080",
//	    client.WithBearerToken(os.Getenv("SENDERAUTH_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Proving a mailbox
//
// SubmitMailbox mails a one-time code to the address and returns the domain
// in verification_pending. VerifyCode completes the proof:
//
//	d, err := c.SubmitMailbox(ctx, "ops@example.com")
//	// ... read the code from the mailbox ...
//	d, err = c.VerifyCode(ctx, d.ID, "123456")
//
// # Authenticating the domain
//
// StartAuth returns the DKIM and DMARC records to publish. Poll Recheck until
// Ready reports true:
//
//	st, err := c.StartAuth(ctx, d.ID)
//	for _, r := range st.Records {
//	    fmt.Println(r.Type, r.Host, r.Value)
//	}
//	st, err = c.Recheck(ctx, d.ID)
//
// Errors returned by the server are *APIError values carrying the HTTP
// status and the machine-readable code, so callers can branch with
// errors.As:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Code == client.CodeOTPExpired {
//	    _ = c.ResendCode(ctx, d.ID)
//	}
package client
