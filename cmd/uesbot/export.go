package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"uesbot/internal/ics"
	"uesbot/internal/state"
	"uesbot/internal/store"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var output string
	var days int
	cmd := &cobra.Command{
		Use:   "export-ics",
		Short: "Write pending deliverables of the last cycle as an iCalendar file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.State.Backend, cfg.State.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			events, err := state.LoadSnapshot(cmd.Context(), s)
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.Notify.DaysAhead
			}
			now := time.Now()
			data, count := ics.Export(events, now, days)

			if output == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if output == "" {
				output = ics.Filename(now, cfg.Location())
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d events written to %s\n", count, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (\"-\" for stdout; default: timestamped name)")
	cmd.Flags().IntVar(&days, "days", 0, "Days ahead to include (default from config)")
	return cmd
}
