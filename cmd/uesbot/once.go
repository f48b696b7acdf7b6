package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"uesbot/internal/cycle"
)

func newOnceCommand(ctx *commandContext) *cobra.Command {
	var dryRun, manual bool
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single scrape cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if dryRun {
				cfg.Telegram.DryRun = true
			}
			if err := cfg.Validate(true); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			var res cycle.Result
			if manual {
				res, err = a.cycles.RunNow(runCtx, cfg.LockWait())
			} else {
				res, err = a.cycles.RunScheduled(runCtx)
			}
			if err != nil && !errors.Is(err, cycle.ErrDelivery) {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Cycle", "Trigger", "Events", "Changed", "Reminders", "Suppressed", "Took"},
				[][]string{{
					res.ID,
					string(res.Trigger),
					strconv.Itoa(len(res.All)),
					strconv.Itoa(len(res.Changed)),
					strconv.Itoa(len(res.Reminders)),
					strconv.FormatBool(res.Suppressed),
					res.Finished.Sub(res.Started).Round(time.Millisecond).String(),
				}},
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignRight},
			))
			fmt.Fprintln(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log notifications instead of sending them")
	cmd.Flags().BoolVar(&manual, "manual", false, "Run as an operator-requested cycle (ignores sleep and quiet hours)")
	return cmd
}
