package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"uesbot/internal/bot"
	"uesbot/internal/cycle"
	appLog "uesbot/internal/log"
	"uesbot/internal/scheduler"
	"uesbot/internal/web"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot: periodic scraping, Telegram commands and the HTTP surface",
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
			return runDaemon(cmd.Context(), ctx, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log notifications instead of sending them")
	return cmd
}

func runDaemon(parent context.Context, cctx *commandContext, dryRun bool) error {
	cfg, _ := cctx.ensureConfig()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	lock := flock.New(lockPath(cfg))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another uesbot instance is already using this state store")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			appLog.Warn("failed to release process lock", "err", err)
		}
	}()

	appLog.Info("uesbot starting",
		"version", version,
		"config_path", cctx.configPath(),
		"timezone", cfg.Timezone,
		"quiet", cfg.QuietWindow().String(),
		"state_backend", cfg.State.Backend,
		"state_path", cfg.State.Path,
		"dry_run", cfg.Telegram.DryRun,
		"web", cfg.Web.Listen,
	)

	interval := cfg.Interval()
	if st, err := a.cycles.State(ctx); err != nil {
		// The first cycle reports and aborts on an unreadable state.
		appLog.Warn("state not readable at startup", "err", err)
	} else if st.IntervalMinutes > 0 {
		interval = time.Duration(st.IntervalMinutes) * time.Minute
	}

	// A started cycle runs to completion; shutdown waits for it in Stop.
	sched := scheduler.New(context.WithoutCancel(ctx), func(ctx context.Context) {
		_, err := a.cycles.RunScheduled(ctx)
		switch {
		case err == nil, errors.Is(err, cycle.ErrBusy):
		case errors.Is(err, cycle.ErrDelivery):
			appLog.Warn("scheduled cycle delivered partially", "err", err)
		default:
			appLog.Error("scheduled cycle failed", err)
		}
	})
	if err := sched.Start(interval); err != nil {
		return err
	}

	b := bot.New(a.cycles, a.tg, sched, bot.Options{
		ChatID:      cfg.Telegram.ChatID,
		Location:    cfg.Location(),
		UrgentHours: cfg.Notify.UrgentHours,
		MaxLines:    cfg.Notify.MaxSummaryLines,
		Quiet:       cfg.QuietWindow(),
		LockWait:    cfg.LockWait(),
		Cooldown:    time.Duration(cfg.Schedule.CooldownSec) * time.Second,
		DaysAhead:   cfg.Notify.DaysAhead,
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if cfg.Telegram.Token != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			poll := time.Duration(cfg.Telegram.PollTimeoutSec) * time.Second
			if err := a.tg.Poll(ctx, poll, b.Handle); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("telegram polling: %w", err)
			}
		}()
	} else {
		appLog.Warn("telegram token not set; commands are disabled")
	}

	if cfg.Web.Listen != "" {
		var auth *web.BasicAuth
		if ba := cfg.Web.BasicAuth; ba != nil {
			auth = &web.BasicAuth{Username: ba.Username, Password: ba.Password}
		}
		srv := web.NewServer(a.cycles, web.Options{
			Listen:          cfg.Web.Listen,
			BasicAuth:       auth,
			Location:        cfg.Location(),
			UrgentHours:     cfg.Notify.UrgentHours,
			Quiet:           cfg.QuietWindow(),
			DefaultInterval: cfg.Interval(),
			Metrics:         a.metrics,
			NextRun:         sched.Next,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case runErr = <-errCh:
		appLog.Error("component failed, shutting down", runErr)
		stop()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(stopCtx)
	wg.Wait()

	appLog.Info("uesbot exiting")
	return runErr
}
