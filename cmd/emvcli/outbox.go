package main

import (
	"github.com/spf13/cobra"

	"emvcli/internal/outbox"
)

func newOutboxCommand(app *appContext) *cobra.Command {
	var outboxDir string

	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Print the status of every outbox bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := outboxDir
			if dir == "" {
				dir = app.paths.OutboxDir
			}
			ob, err := outbox.New(dir)
			if err != nil {
				return err
			}
			summary, err := ob.Summary()
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}

	cmd.Flags().StringVar(&outboxDir, "outbox-dir", "", "outbox directory (default ~/.synerex_emv/outbox)")
	return cmd
}
