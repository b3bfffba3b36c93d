package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"emvcli/internal/config"
	"emvcli/internal/license"
)

func newInstallLicenseCommand(app *appContext) *cobra.Command {
	var (
		licensePath string
		storeDir    string
	)

	cmd := &cobra.Command{
		Use:   "install-license",
		Short: "Persist a license document for reuse across runs",
		Long: "Copies a license document into the local store. The store " +
			"never trusts its own contents: every later use re-verifies " +
			"signature and expiry.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := license.LoadDocument(licensePath)
			if err != nil {
				return err
			}

			target := app.paths.LicenseFile
			if storeDir != "" {
				target = filepath.Join(storeDir, "license.json")
			}

			saved, err := license.NewStore(target).Save(doc)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{
				"path":       saved,
				"license_id": doc.LicenseID,
			})
		},
	}

	cmd.Flags().StringVar(&licensePath, "license-path", "", "path to the license document (required)")
	cmd.Flags().StringVar(&storeDir, "store-dir", "", "license store directory (default "+defaultStoreDirHelp+")")
	cmd.MarkFlagRequired("license-path")
	return cmd
}

const defaultStoreDirHelp = "~/.synerex_emv/license"

// loadVerifiedLicense loads the installed license and re-verifies it.
// Sealing and sync are gated on this: no valid license, no new
// evidence bundles and no uploads.
func loadVerifiedLicense(app *appContext, storeDir string) (*license.Document, error) {
	target := app.paths.LicenseFile
	if storeDir != "" {
		target = filepath.Join(storeDir, "license.json")
	}

	doc, err := license.NewStore(target).Load()
	if err != nil {
		return nil, err
	}

	key, err := config.VerificationKey(app.cfg.License.PublicKey)
	if err != nil {
		return nil, err
	}
	verifier := license.NewVerifier(key,
		license.WithRequiredProgram(app.cfg.License.RequiredProgram),
		license.WithLogger(app.logger),
	)
	if result := verifier.Verify(doc); !result.OK {
		return nil, &exitCodeError{code: 2, err: licenseGateError(result.Reason)}
	}
	return doc, nil
}

type licenseGateError string

func (e licenseGateError) Error() string {
	return "installed license is not usable: " + string(e)
}
