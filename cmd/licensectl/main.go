package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"leasecli/internal/app"
	"leasecli/internal/config"
	apierrors "leasecli/internal/errors"
	"leasecli/internal/infrastructure"
	"leasecli/internal/security"
	handlers "leasecli/internal/transport/http"
	"leasecli/pkg/contracts"
	api "leasecli/pkg/contracts/api/v1"
)

// stackOpener builds the license stack for one command invocation
type stackOpener func(ctx context.Context, configFile, logLevel string) (*app.LicenseStack, error)

type cli struct {
	open       stackOpener
	configFile string
	logLevel   string
	jsonOut    bool
	out        io.Writer
}

func main() {
	if err := newRootCmd(openStack, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// openStack loads configuration and wires the same license stack the daemon uses
func openStack(ctx context.Context, configFile, logLevel string) (*app.LicenseStack, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFrom(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Logs go to stderr so stdout stays parseable with --json
	logger := infrastructure.NewLogger(os.Stderr, logLevel)
	return app.BuildLicenseStack(ctx, cfg, logger, nil, app.Overrides{})
}

func newRootCmd(open stackOpener, out io.Writer) *cobra.Command {
	c := &cli{open: open, out: out}

	root := &cobra.Command{
		Use:          "licensectl",
		Short:        "Manage the license lease of this machine",
		Version:      contracts.Version,
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "path to a YAML config file (env "+config.EnvPrefix+"_CONFIG_FILE)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level written to stderr: debug|info|warn|error")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print machine readable JSON")

	root.AddCommand(
		&cobra.Command{
			Use:   "activate <license-key>",
			Short: "Activate a license key on this machine (requires network)",
			Args:  cobra.ExactArgs(1),
			RunE:  c.withStack(c.activate),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current lease status",
			Args:  cobra.NoArgs,
			RunE:  c.withStack(c.status),
		},
		&cobra.Command{
			Use:   "renew",
			Short: "Try to extend the lease with the license authority",
			Args:  cobra.NoArgs,
			RunE:  c.withStack(c.renew),
		},
		&cobra.Command{
			Use:   "deactivate",
			Short: "Forget the lease on this machine (the key stays bound at the authority)",
			Args:  cobra.NoArgs,
			RunE:  c.withStack(c.deactivate),
		},
		&cobra.Command{
			Use:   "fingerprint",
			Short: "Print the machine fingerprint leases are bound to",
			Args:  cobra.NoArgs,
			RunE:  c.withStack(c.fingerprint),
		},
		&cobra.Command{
			Use:   "report-version <version>",
			Short: "Report the running application version to the authority",
			Args:  cobra.ExactArgs(1),
			RunE:  c.withStack(c.reportVersion),
		},
	)

	return root
}

type stackFunc func(ctx context.Context, stack *app.LicenseStack, args []string) error

func (c *cli) withStack(fn stackFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = infrastructure.EnsureTraceID(ctx)

		stack, err := c.open(ctx, c.configFile, c.logLevel)
		if err != nil {
			return err
		}
		defer stack.Close()

		return fn(ctx, stack, args)
	}
}

func (c *cli) activate(ctx context.Context, stack *app.LicenseStack, args []string) error {
	record, err := stack.Manager.Activate(ctx, args[0])
	if err != nil {
		var ae *apierrors.ActivationError
		if errors.As(err, &ae) {
			return fmt.Errorf("%s (%s)", ae.Message, ae.Kind)
		}
		return err
	}

	status := handlers.StatusToResponse(stack.Manager.GetStatus(ctx))
	if c.jsonOut {
		return c.printJSON(api.LicenseActivateResponse{
			Success:     true,
			Message:     "License activated",
			EntityName:  record.EntityName,
			Tier:        string(record.PrivilegeTier),
			ActivatedAt: record.ActivatedAt,
			ExpiresAt:   record.LeaseExpiresAt,
			Status:      status,
		})
	}

	fmt.Fprintf(c.out, "License activated for %s.\n", record.EntityName)
	return c.printStatus(status)
}

func (c *cli) status(ctx context.Context, stack *app.LicenseStack, _ []string) error {
	status := handlers.StatusToResponse(stack.Manager.GetStatus(ctx))
	if c.jsonOut {
		return c.printJSON(status)
	}
	return c.printStatus(status)
}

func (c *cli) renew(ctx context.Context, stack *app.LicenseStack, _ []string) error {
	renewed := stack.Manager.RenewLease(ctx)
	status := handlers.StatusToResponse(stack.Manager.GetStatus(ctx))
	if c.jsonOut {
		return c.printJSON(api.LicenseRenewResponse{Renewed: renewed, Status: status})
	}

	if renewed {
		fmt.Fprintln(c.out, "Lease renewed.")
	} else {
		fmt.Fprintln(c.out, "Lease not renewed; the current lease is unchanged.")
	}
	return c.printStatus(status)
}

func (c *cli) deactivate(ctx context.Context, stack *app.LicenseStack, _ []string) error {
	if err := stack.Manager.Deactivate(ctx); err != nil {
		return err
	}
	status := handlers.StatusToResponse(stack.Manager.GetStatus(ctx))
	if c.jsonOut {
		return c.printJSON(status)
	}
	fmt.Fprintln(c.out, "License removed from this machine.")
	return nil
}

func (c *cli) fingerprint(ctx context.Context, stack *app.LicenseStack, _ []string) error {
	fp := stack.Manager.Fingerprint()
	resp := api.FingerprintResponse{
		Fingerprint: fp,
		Short:       security.ShortFingerprint(fp),
		Degraded:    stack.Manager.Degraded(),
	}
	if c.jsonOut {
		return c.printJSON(resp)
	}

	fmt.Fprintln(c.out, resp.Fingerprint)
	if resp.Degraded {
		fmt.Fprintln(c.out, "warning: no hardware identifier found, fingerprint is derived from network identity")
	}
	return nil
}

func (c *cli) reportVersion(ctx context.Context, stack *app.LicenseStack, args []string) error {
	stack.Manager.ReportVersion(ctx, args[0])
	if c.jsonOut {
		return c.printJSON(map[string]string{"version": args[0]})
	}
	fmt.Fprintf(c.out, "Reported version %s.\n", args[0])
	return nil
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printStatus(s api.LicenseStatusResponse) error {
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", s.State)
	if s.Valid {
		days := fmt.Sprintf("%d", s.DaysLeft)
		if s.Warning {
			days += " (renew soon)"
		}
		fmt.Fprintf(tw, "Days left:\t%s\n", days)
	}
	if s.ExpiresAt != nil {
		fmt.Fprintf(tw, "Expires:\t%s\n", s.ExpiresAt.Local().Format(time.RFC1123))
	}
	if s.EntityName != "" {
		fmt.Fprintf(tw, "Licensed to:\t%s\n", s.EntityName)
	}
	if s.Tier != "" {
		fmt.Fprintf(tw, "Tier:\t%s\n", s.Tier)
	}
	if s.MaskedKey != "" {
		fmt.Fprintf(tw, "Key:\t%s\n", s.MaskedKey)
	}
	if s.Degraded {
		fmt.Fprintf(tw, "Fingerprint:\tdegraded\n")
	}
	fmt.Fprintf(tw, "\n%s\n", s.Message)
	return tw.Flush()
}
