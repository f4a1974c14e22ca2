package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/senderauth/pkg/client"
)

var (
	serverURL string
	apiToken  string
	insecure  bool
)

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "Manage domains on a running senderauth server",
	Long: `domains talks to the senderauth HTTP API as the account named by --token.

  export SENDERAUTH_TOKEN=$(senderauthctl token --account acct_1 --email me@example.com)
  senderauthctl domains submit ops@example.com
  senderauthctl domains verify <id> 123456
  senderauthctl domains start <id>
  senderauthctl domains recheck <id>`,
}

func init() {
	domainsCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("SENDERAUTH_SERVER", "http://localhost:8080"), "senderauth server base URL")
	domainsCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("SENDERAUTH_TOKEN"), "Account bearer token (default $SENDERAUTH_TOKEN)")
	domainsCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development only)")

	domainsCmd.AddCommand(
		&cobra.Command{Use: "list", Short: "List the account's domains", Args: cobra.NoArgs, RunE: runDomainsList},
		&cobra.Command{Use: "get <id>", Short: "Show one domain", Args: cobra.ExactArgs(1), RunE: runDomainsGet},
		&cobra.Command{Use: "submit <email>", Short: "Claim a domain by mailing a code to one of its mailboxes", Args: cobra.ExactArgs(1), RunE: runDomainsSubmit},
		&cobra.Command{Use: "resend <id>", Short: "Mail a fresh code to the verifying mailbox", Args: cobra.ExactArgs(1), RunE: runDomainsResend},
		&cobra.Command{Use: "verify <id> <code>", Short: "Submit the mailed code", Args: cobra.ExactArgs(2), RunE: runDomainsVerify},
		&cobra.Command{Use: "start <id>", Short: "Detect the DNS provider and print the records to publish", Args: cobra.ExactArgs(1), RunE: runDomainsStart},
		&cobra.Command{Use: "recheck <id>", Short: "Verify the published records", Args: cobra.ExactArgs(1), RunE: runDomainsRecheck},
		&cobra.Command{Use: "provider <id> <provider-id>", Short: "Override the detected DNS provider", Args: cobra.ExactArgs(2), RunE: runDomainsProvider},
		&cobra.Command{Use: "disconnect <id>", Short: "Reset a domain to auth_required", Args: cobra.ExactArgs(1), RunE: runDomainsDisconnect},
		&cobra.Command{Use: "mailboxes", Short: "List every known mailbox", Args: cobra.NoArgs, RunE: runDomainsMailboxes},
		&cobra.Command{Use: "providers", Short: "List the DNS provider catalog", Args: cobra.NoArgs, RunE: runDomainsProviders},
	)
	rootCmd.AddCommand(domainsCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func apiClient() (*client.Client, error) {
	opts := []client.Option{client.WithUserAgent("senderauthctl/" + version)}
	if apiToken != "" {
		opts = append(opts, client.WithBearerToken(apiToken))
	}
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	return client.New(serverURL, opts...)
}

func apiContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

func runDomainsList(cmd *cobra.Command, _ []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()
	ds, err := c.ListDomains(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if format == "json" {
		return writeJSON(out, ds)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDOMAIN\tSTATUS\tPROVIDER\tVERIFYING")
	for _, d := range ds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Domain, d.Status, providerName(d.Provider), d.VerifyingEmail)
	}
	return w.Flush()
}

func runDomainsGet(cmd *cobra.Command, args []string) error {
	return domainCall(cmd, func(ctx context.Context, c *client.Client) (*client.Domain, error) {
		return c.GetDomain(ctx, args[0])
	})
}

func runDomainsSubmit(cmd *cobra.Command, args []string) error {
	return domainCall(cmd, func(ctx context.Context, c *client.Client) (*client.Domain, error) {
		return c.SubmitMailbox(ctx, args[0])
	})
}

func runDomainsVerify(cmd *cobra.Command, args []string) error {
	return domainCall(cmd, func(ctx context.Context, c *client.Client) (*client.Domain, error) {
		return c.VerifyCode(ctx, args[0], args[1])
	})
}

func runDomainsDisconnect(cmd *cobra.Command, args []string) error {
	return domainCall(cmd, func(ctx context.Context, c *client.Client) (*client.Domain, error) {
		return c.Disconnect(ctx, args[0])
	})
}

func runDomainsResend(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()
	if err := c.ResendCode(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "A new code is on its way.")
	return nil
}

func runDomainsStart(cmd *cobra.Command, args []string) error {
	return authCall(cmd, func(ctx context.Context, c *client.Client) (*client.AuthState, error) {
		return c.StartAuth(ctx, args[0])
	})
}

func runDomainsRecheck(cmd *cobra.Command, args []string) error {
	return authCall(cmd, func(ctx context.Context, c *client.Client) (*client.AuthState, error) {
		return c.Recheck(ctx, args[0])
	})
}

func runDomainsProvider(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()
	p, err := c.SetProvider(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), p)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Provider set to %s\n", providerName(p))
	return nil
}

func runDomainsMailboxes(cmd *cobra.Command, _ []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()
	rows, err := c.ListMailboxes(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if format == "json" {
		return writeJSON(out, rows)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tDOMAIN\tSTATUS")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Email, r.Domain, r.DomainStatus)
	}
	return w.Flush()
}

func runDomainsProviders(cmd *cobra.Command, _ []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()
	catalog, err := c.Providers(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if format == "json" {
		return writeJSON(out, catalog)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tHELP")
	for _, p := range catalog {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, p.HelpURL)
	}
	return w.Flush()
}

func domainCall(cmd *cobra.Command, fn func(context.Context, *client.Client) (*client.Domain, error)) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()
	d, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return printDomain(cmd.OutOrStdout(), d)
}

func authCall(cmd *cobra.Command, fn func(context.Context, *client.Client) (*client.AuthState, error)) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := apiContext()
	defer cancel()
	st, err := fn(ctx, c)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if format == "json" {
		return writeJSON(out, st)
	}
	fmt.Fprintf(out, "Status:   %s\n", st.Status)
	fmt.Fprintf(out, "Provider: %s\n", providerName(st.Provider))
	if st.Provider != nil && st.Provider.HelpURL != "" {
		fmt.Fprintf(out, "Help:     %s\n", st.Provider.HelpURL)
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tHOST\tVALUE\tREQUIRED\tFOUND")
	for _, r := range st.Records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\n", r.Type, r.Host, r.Value, r.Required, r.Found)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nReady: %v\n", st.Ready)
	return nil
}

func printDomain(out io.Writer, d *client.Domain) error {
	if format == "json" {
		return writeJSON(out, d)
	}
	fmt.Fprintf(out, "ID:        %s\n", d.ID)
	fmt.Fprintf(out, "Domain:    %s\n", d.Domain)
	fmt.Fprintf(out, "Status:    %s\n", d.Status)
	if d.VerifyingEmail != "" {
		fmt.Fprintf(out, "Verifying: %s\n", d.VerifyingEmail)
	}
	if d.OTPPending && d.OTPExpiresAt != nil {
		fmt.Fprintf(out, "Code:      pending, expires %s\n", d.OTPExpiresAt.Local().Format(time.RFC1123))
	}
	if d.Provider != nil {
		fmt.Fprintf(out, "Provider:  %s\n", providerName(d.Provider))
	}
	return nil
}

func providerName(p *client.Provider) string {
	if p == nil || p.ProviderName == "" {
		return "-"
	}
	return p.ProviderName
}
