package main

import (
	"fmt"
	"path/filepath"
	"time"

	"uesbot/internal/config"
	"uesbot/internal/cycle"
	"uesbot/internal/metrics"
	"uesbot/internal/portal"
	"uesbot/internal/store"
	"uesbot/internal/telegram"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg     *config.Config
	store   store.Store
	tg      *telegram.Client
	metrics *metrics.Metrics
	cycles  *cycle.Coordinator
}

func newApp(cfg *config.Config, dryRun bool) (*app, error) {
	st, err := store.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	tg := telegram.New(telegram.Options{
		Token:   cfg.Telegram.Token,
		ChatID:  cfg.Telegram.ChatID,
		BaseURL: cfg.Telegram.BaseURL,
		DryRun:  dryRun || cfg.Telegram.DryRun,
	})

	browser := portal.NewBrowser(portal.BrowserOptions{
		BaseURL:      cfg.Portal.BaseURL,
		DashboardURL: cfg.Portal.DashboardURL,
		Username:     cfg.Portal.Username,
		Password:     cfg.Portal.Password,
		ProfileDir:   cfg.Portal.ProfileDir,
		ExecPath:     cfg.Portal.Chromium,
		Headful:      cfg.Portal.Headful,
		NavTimeout:   time.Duration(cfg.Portal.NavTimeoutSec) * time.Second,
	})

	retry := portal.DefaultRetryPolicy
	retry.Attempts = uint(cfg.Portal.RetryAttempts)

	m := metrics.New()
	coord := cycle.New(browser, st, tg, cycle.Options{
		Location:        cfg.Location(),
		Quiet:           cfg.QuietWindow(),
		UrgentHours:     cfg.Notify.UrgentHours,
		MaxChangeItems:  cfg.Notify.MaxChangeItems,
		MaxSummaryLines: cfg.Notify.MaxSummaryLines,
		AlertThreshold:  cfg.Notify.AlertThreshold,
		NotifyUnchanged: cfg.Notify.NotifyUnchanged,
		Summary:         cfg.Notify.Summary,
		Retry:           retry,
	}, m)

	return &app{cfg: cfg, store: st, tg: tg, metrics: m, cycles: coord}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// lockPath places the process lock next to the state store.
func lockPath(cfg *config.Config) string {
	if cfg.State.Backend == store.BackendSQLite {
		return cfg.State.Path + ".lock"
	}
	return filepath.Join(cfg.State.Path, "uesbot.lock")
}
