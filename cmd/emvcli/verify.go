package main

import (
	"errors"

	"github.com/spf13/cobra"

	"emvcli/internal/config"
	"emvcli/internal/license"
	"emvcli/internal/security"
)

func newVerifyLicenseCommand(app *appContext) *cobra.Command {
	var (
		licensePath          string
		publicKey            string
		enforceDeviceBinding bool
	)

	cmd := &cobra.Command{
		Use:   "verify-license",
		Short: "Verify a license document offline",
		Long: "Verifies the signature, expiry, and program scope of a license " +
			"document entirely offline. With --enforce-device-binding, also " +
			"checks this device against the license's fingerprint allowlist. " +
			"Exits 2 when the license does not verify.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := license.LoadDocument(licensePath)
			if err != nil {
				return err
			}

			if publicKey == "" {
				publicKey = app.cfg.License.PublicKey
			}
			key, err := config.VerificationKey(publicKey)
			if err != nil {
				return err
			}

			verifier := license.NewVerifier(key,
				license.WithRequiredProgram(app.cfg.License.RequiredProgram),
				license.WithLogger(app.logger),
			)

			result := verifier.Verify(doc)
			if result.OK && (enforceDeviceBinding || app.cfg.License.EnforceDeviceBinding) {
				fingerprint, err := security.NewFingerprinter().Compute()
				if err != nil {
					return err
				}
				result = license.RequireDeviceFingerprint(doc, fingerprint)
			}

			if err := printJSON(result); err != nil {
				return err
			}
			if !result.OK {
				return &exitCodeError{code: 2, err: errors.New("license verification failed: " + result.Reason)}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&licensePath, "license-path", "", "path to the license document (required)")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "base64 Ed25519 public key (default: embedded release key)")
	cmd.Flags().BoolVar(&enforceDeviceBinding, "enforce-device-binding", false, "require this device to be on the license's fingerprint allowlist")
	cmd.MarkFlagRequired("license-path")
	return cmd
}
