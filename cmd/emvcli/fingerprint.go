package main

import (
	"github.com/spf13/cobra"

	"emvcli/internal/security"
)

func newPrintFingerprintCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "print-fingerprint",
		Short: "Compute and print this device's fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := security.NewFingerprinter().Generate()
			if err != nil {
				return err
			}
			return printJSON(fp)
		},
	}
}
