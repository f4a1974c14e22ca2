package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmerrifield20/senderauth/internal/config"
	"github.com/jmerrifield20/senderauth/internal/dns"
	"github.com/jmerrifield20/senderauth/internal/identity"
	"github.com/jmerrifield20/senderauth/internal/planner"
	"github.com/jmerrifield20/senderauth/internal/provider"
	"github.com/jmerrifield20/senderauth/internal/verifier"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	format  string
	verbose bool
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "senderauthctl",
	Short: "Inspect sender domain authentication from the command line",
	Long: `senderauthctl runs the planning, detection and verification steps of the
senderauth service against live DNS, using the same configuration file.

  senderauthctl plan example.com
  senderauthctl check example.com --format json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/senderauth.yaml)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "Output format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log resolver activity to stderr")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func logger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func newResolver() dns.Resolver {
	rc := cfg.ResolverSettings()
	if cfg.Verifier.Backend == config.BackendNet {
		return dns.NewStdResolver(nil, rc.Timeout)
	}
	return dns.NewMiekgResolver(rc)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── plan ─────────────────────────────────────────────────────────────────────

var planCmd = &cobra.Command{
	Use:   "plan <domain>",
	Short: "Print the DNS records a domain must publish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := planner.New(cfg.PlannerSettings())
		if err != nil {
			return err
		}
		return printRecords(cmd.OutOrStdout(), p.Plan(args[0]), false)
	},
}

// ── detect ───────────────────────────────────────────────────────────────────

var detectCmd = &cobra.Command{
	Use:   "detect <domain>",
	Short: "Identify the DNS hosting provider from the domain's nameservers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		det := provider.NewDetector(newResolver(), logger()).Detect(ctx, args[0])
		out := cmd.OutOrStdout()
		if format == "json" {
			return writeJSON(out, det)
		}
		name := det.ProviderName
		if !det.Matched() {
			name = "(unknown)"
		}
		fmt.Fprintf(out, "Provider:    %s\n", name)
		if det.HelpURL != "" {
			fmt.Fprintf(out, "Help:        %s\n", det.HelpURL)
		}
		fmt.Fprintf(out, "Nameservers: %s\n", strings.Join(det.DetectedNameservers, ", "))
		return nil
	},
}

// ── check ────────────────────────────────────────────────────────────────────

var checkCmd = &cobra.Command{
	Use:   "check <domain>",
	Short: "Plan the records for a domain and verify them against live DNS",
	Long: `check plans the DKIM and DMARC records for a domain, looks each one up and
prints whether the domain is ready. The exit status is 0 even when records
are missing; use --format json and inspect "ready" in scripts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := planner.New(cfg.PlannerSettings())
		if err != nil {
			return err
		}
		v := verifier.New(newResolver(), cfg.VerifierSettings(), logger())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		recs := v.CheckAll(ctx, p.Plan(args[0]))
		r := verifier.Reduce(recs)

		out := cmd.OutOrStdout()
		if format == "json" {
			return writeJSON(out, struct {
				Records     []planner.Record `json:"records"`
				DMARC       bool             `json:"dmarc"`
				DKIM        bool             `json:"dkim"`
				Ready       bool             `json:"ready"`
				DMARCPolicy string           `json:"dmarcPolicy,omitempty"`
			}{recs, r.DMARC, r.DKIM, r.Ready(), r.Policy})
		}
		if err := printRecords(out, recs, true); err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "DKIM: %v  DMARC: %v", r.DKIM, r.DMARC)
		if r.Policy != "" {
			fmt.Fprintf(out, " (p=%s)", r.Policy)
		}
		fmt.Fprintf(out, "  Ready: %v\n", r.Ready())
		return nil
	},
}

func printRecords(out io.Writer, recs []planner.Record, checked bool) error {
	if format == "json" {
		return writeJSON(out, recs)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if checked {
		fmt.Fprintln(w, "TYPE\tHOST\tVALUE\tREQUIRED\tFOUND")
	} else {
		fmt.Fprintln(w, "TYPE\tHOST\tVALUE\tREQUIRED")
	}
	for _, r := range recs {
		if checked {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\n", r.Type, r.Host, r.Value, r.Required, r.Found)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", r.Type, r.Host, r.Value, r.Required)
		}
	}
	return w.Flush()
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenAccount string
	tokenEmail   string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an account bearer token for local testing",
	Long: `token signs an account token with auth.jwt_secret from the configuration.
Use it against a development server:

  curl -H "Authorization: Bearer $(senderauthctl token --account acct_1)" \
       localhost:8080/api/v1/email/domains`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenAccount == "" {
			return fmt.Errorf("--account is required")
		}
		ttl := tokenTTL
		if ttl == 0 {
			ttl = cfg.Auth.TokenTTL
		}
		issuer, err := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl)
		if err != nil {
			return err
		}
		tok, err := issuer.Issue(tokenAccount, tokenEmail)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenAccount, "account", "", "Account ID to embed as the token subject")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "Requester address shown in verification mail")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default auth.token_ttl)")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "senderauthctl %s\n", version)
	},
}
