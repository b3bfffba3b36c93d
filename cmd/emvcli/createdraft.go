package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"emvcli/internal/baseline"
	"emvcli/internal/outbox"
)

func newCreateDraftCommand(app *appContext) *cobra.Command {
	var (
		orgID          string
		projectID      string
		createdBy      string
		meters         []string
		startDate      string
		endDate        string
		rawFiles       []string
		calcParamsJSON string
		licenseID      string
		baselineID     string
		outboxDir      string
		storeDir       string
	)

	cmd := &cobra.Command{
		Use:   "create-draft",
		Short: "Seal raw measurement files into an outbox bundle",
		Long: "Hashes the raw files and calculation parameters into a " +
			"tamper-evident baseline draft and materializes it as a " +
			"self-contained outbox bundle. Requires a valid installed " +
			"license.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(rawFiles) == 0 {
				return fmt.Errorf("at least one --raw-files entry is required")
			}

			doc, err := loadVerifiedLicense(app, storeDir)
			if err != nil {
				return err
			}
			if licenseID == "" {
				licenseID = doc.LicenseID
			}

			sealer := baseline.NewSealer(baseline.WithLogger(app.logger))
			draft, rawPaths, err := sealer.CreateDraft(baseline.DraftSpec{
				OrgID:      orgID,
				ProjectID:  projectID,
				CreatedBy:  createdBy,
				MeterIDs:   meters,
				StartDate:  startDate,
				EndDate:    endDate,
				RawFiles:   rawFiles,
				CalcParams: json.RawMessage(calcParamsJSON),
				LicenseID:  licenseID,
				BaselineID: baselineID,
			})
			if err != nil {
				return err
			}

			dir := outboxDir
			if dir == "" {
				dir = app.paths.OutboxDir
			}
			ob, err := outbox.New(dir)
			if err != nil {
				return err
			}
			bundleDir, err := ob.SaveBundle(draft, rawPaths)
			if err != nil {
				return err
			}

			return printJSON(map[string]string{
				"baseline_id":   draft.BaselineID,
				"bundle_dir":    bundleDir,
				"raw_data_hash": draft.RawDataHash,
				"calc_hash":     draft.CalcHash,
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org-id", "", "organization id (required)")
	cmd.Flags().StringVar(&projectID, "project-id", "", "project id (required)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "author identifier (required)")
	cmd.Flags().StringSliceVar(&meters, "meters", nil, "meter ids, comma separated (required)")
	cmd.Flags().StringVar(&startDate, "start-date", "", "measurement window start (required)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "measurement window end (required)")
	cmd.Flags().StringSliceVar(&rawFiles, "raw-files", nil, "raw measurement file paths, comma separated (required)")
	cmd.Flags().StringVar(&calcParamsJSON, "calc-params-json", "", "calculation parameters as a JSON object (required)")
	cmd.Flags().StringVar(&licenseID, "license-id", "", "license id to record (default: installed license)")
	cmd.Flags().StringVar(&baselineID, "baseline-id", "", "explicit baseline id (default: generated)")
	cmd.Flags().StringVar(&outboxDir, "outbox-dir", "", "outbox directory (default ~/.synerex_emv/outbox)")
	cmd.Flags().StringVar(&storeDir, "store-dir", "", "license store directory (default "+defaultStoreDirHelp+")")
	cmd.MarkFlagRequired("org-id")
	cmd.MarkFlagRequired("project-id")
	cmd.MarkFlagRequired("created-by")
	cmd.MarkFlagRequired("meters")
	cmd.MarkFlagRequired("start-date")
	cmd.MarkFlagRequired("end-date")
	cmd.MarkFlagRequired("raw-files")
	cmd.MarkFlagRequired("calc-params-json")
	return cmd
}
