package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"leasecli/internal/app"
	"leasecli/pkg/contracts"
)

func main() {
	root := &cobra.Command{
		Use:           "licensed",
		Short:         "Serve the license lease API, renew the lease and push status to the UI",
		Version:       contracts.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.NewApplication()
			if err != nil {
				slog.Error("Failed to initialize application", slog.String("error", err.Error()))
				return err
			}
			return application.Run(cmd.Context())
		},
	}
	root.SetVersionTemplate(contracts.GetFullVersionString() + "\n")

	if err := root.Execute(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
