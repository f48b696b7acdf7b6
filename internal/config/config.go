package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	appLog "uesbot/internal/log"
	"uesbot/internal/quiet"
	"uesbot/internal/store"
)

// Defaults.
const (
	DefaultBaseURL         = "https://ueslearning.ues.mx"
	DefaultTimezone        = "America/Mazatlan"
	DefaultIntervalMinutes = 60
	DefaultLockWaitSec     = 12
	DefaultUrgentHours     = 24
	DefaultMaxChangeItems  = 12
	DefaultMaxSummaryLines = 18
	DefaultCooldownSec     = 20
	DefaultAlertThreshold  = 3
	DefaultDaysAhead       = 30
	DefaultStatePath       = "./data/state"
	DefaultProfileDir      = "./data/chromium"

	maxIntervalMinutes = 24 * 60
)

// Summary modes.
const (
	SummaryNever   = "never"
	SummaryChanges = "changes"
	SummaryAlways  = "always"
)

// TelegramConfig holds the Bot API credentials and the operator chat.
type TelegramConfig struct {
	Token   string `yaml:"token" json:"-"`
	ChatID  int64  `yaml:"chat_id" json:"chat_id"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	// DryRun logs outgoing messages instead of sending them.
	DryRun         bool `yaml:"dry_run" json:"dry_run"`
	PollTimeoutSec int  `yaml:"poll_timeout_sec" json:"poll_timeout_sec"`
}

// PortalConfig describes the Moodle portal and the browser that reads it.
type PortalConfig struct {
	BaseURL      string `yaml:"base_url" json:"base_url"`
	DashboardURL string `yaml:"dashboard_url,omitempty" json:"dashboard_url,omitempty"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"-"`
	// ProfileDir keeps the browser session between runs.
	ProfileDir    string `yaml:"profile_dir" json:"profile_dir"`
	Chromium      string `yaml:"chromium,omitempty" json:"chromium,omitempty"`
	Headful       bool   `yaml:"headful" json:"headful"`
	NavTimeoutSec int    `yaml:"nav_timeout_sec" json:"nav_timeout_sec"`
	RetryAttempts int    `yaml:"retry_attempts" json:"retry_attempts"`
}

// ScheduleConfig controls the periodic cycle.
type ScheduleConfig struct {
	IntervalMinutes int `yaml:"interval_minutes" json:"interval_minutes"`
	// LockWaitSec bounds how long commands wait for a running cycle.
	LockWaitSec int `yaml:"lock_wait_sec" json:"lock_wait_sec"`
	// CooldownSec is the minimum spacing between forced scrapes.
	CooldownSec int `yaml:"cooldown_sec" json:"cooldown_sec"`
}

// NotifyConfig controls what is sent and when.
type NotifyConfig struct {
	// QuietStart and QuietEnd are "HH:MM"; either empty disables quiet hours.
	QuietStart      string `yaml:"quiet_start" json:"quiet_start"`
	QuietEnd        string `yaml:"quiet_end" json:"quiet_end"`
	UrgentHours     int    `yaml:"urgent_hours" json:"urgent_hours"`
	MaxChangeItems  int    `yaml:"max_change_items" json:"max_change_items"`
	MaxSummaryLines int    `yaml:"max_summary_lines" json:"max_summary_lines"`
	NotifyUnchanged bool   `yaml:"notify_unchanged" json:"notify_unchanged"`
	// Summary is one of never, changes, always.
	Summary        string `yaml:"summary" json:"summary"`
	AlertThreshold int    `yaml:"alert_threshold" json:"alert_threshold"`
	DaysAhead      int    `yaml:"ics_days_ahead" json:"ics_days_ahead"`
}

// StateConfig selects the state store.
type StateConfig struct {
	// Backend is "file" (Path is a directory) or "sqlite" (Path is a file).
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP surface.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// WebConfig enables the HTTP surface when Listen is set.
type WebConfig struct {
	Listen    string           `yaml:"listen" json:"listen"`
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone used for quiet hours and display.
	Timezone string         `yaml:"timezone" json:"timezone"`
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`
	Portal   PortalConfig   `yaml:"portal" json:"portal"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Notify   NotifyConfig   `yaml:"notify" json:"notify"`
	State    StateConfig    `yaml:"state" json:"state"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// ConfigurationError lists every problem found by Validate.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone: DefaultTimezone,
		Telegram: TelegramConfig{
			PollTimeoutSec: 30,
		},
		Portal: PortalConfig{
			BaseURL:       DefaultBaseURL,
			ProfileDir:    DefaultProfileDir,
			NavTimeoutSec: 45,
			RetryAttempts: 3,
		},
		Schedule: ScheduleConfig{
			IntervalMinutes: DefaultIntervalMinutes,
			LockWaitSec:     DefaultLockWaitSec,
			CooldownSec:     DefaultCooldownSec,
		},
		Notify: NotifyConfig{
			QuietStart:      "00:00",
			QuietEnd:        "07:00",
			UrgentHours:     DefaultUrgentHours,
			MaxChangeItems:  DefaultMaxChangeItems,
			MaxSummaryLines: DefaultMaxSummaryLines,
			Summary:         SummaryAlways,
			AlertThreshold:  DefaultAlertThreshold,
			DaysAhead:       DefaultDaysAhead,
		},
		State: StateConfig{
			Backend: store.BackendFile,
			Path:    DefaultStatePath,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly. Quiet bounds are left
// alone: empty means disabled.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.Telegram.PollTimeoutSec <= 0 {
		c.Telegram.PollTimeoutSec = d.Telegram.PollTimeoutSec
	}

	c.Portal.BaseURL = strings.TrimRight(strings.TrimSpace(c.Portal.BaseURL), "/")
	if c.Portal.BaseURL == "" {
		c.Portal.BaseURL = d.Portal.BaseURL
	}
	if c.Portal.DashboardURL == "" {
		c.Portal.DashboardURL = c.Portal.BaseURL + "/my/"
	}
	if c.Portal.ProfileDir == "" {
		c.Portal.ProfileDir = d.Portal.ProfileDir
	}
	if c.Portal.NavTimeoutSec <= 0 {
		c.Portal.NavTimeoutSec = d.Portal.NavTimeoutSec
	}
	if c.Portal.RetryAttempts <= 0 {
		c.Portal.RetryAttempts = d.Portal.RetryAttempts
	}

	if c.Schedule.IntervalMinutes == 0 {
		c.Schedule.IntervalMinutes = d.Schedule.IntervalMinutes
	}
	if c.Schedule.LockWaitSec < 0 {
		c.Schedule.LockWaitSec = 0
	}
	if c.Schedule.CooldownSec < 0 {
		c.Schedule.CooldownSec = 0
	}

	if c.Notify.UrgentHours <= 0 {
		c.Notify.UrgentHours = d.Notify.UrgentHours
	}
	if c.Notify.MaxChangeItems <= 0 {
		c.Notify.MaxChangeItems = d.Notify.MaxChangeItems
	}
	if c.Notify.MaxSummaryLines <= 0 {
		c.Notify.MaxSummaryLines = d.Notify.MaxSummaryLines
	}
	c.Notify.Summary = strings.ToLower(strings.TrimSpace(c.Notify.Summary))
	if c.Notify.Summary == "" {
		c.Notify.Summary = d.Notify.Summary
	}
	if c.Notify.AlertThreshold <= 0 {
		c.Notify.AlertThreshold = d.Notify.AlertThreshold
	}
	if c.Notify.DaysAhead <= 0 {
		c.Notify.DaysAhead = d.Notify.DaysAhead
	}

	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	if c.State.Backend == "" {
		c.State.Backend = d.State.Backend
	}
	if c.State.Path == "" {
		c.State.Path = d.State.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Validate checks the normalized config. requireTelegram is false for
// commands that never talk to the Bot API.
func (c *Config) Validate(requireTelegram bool) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if requireTelegram && !c.Telegram.DryRun {
		if c.Telegram.Token == "" {
			add("telegram.token is required (TG_BOT_TOKEN)")
		}
		if c.Telegram.ChatID == 0 {
			add("telegram.chat_id is required (TG_CHAT_ID)")
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		add("timezone %q: %v", c.Timezone, err)
	}
	if _, err := quiet.Parse(c.Notify.QuietStart, c.Notify.QuietEnd); err != nil {
		add("notify.quiet: %v", err)
	}
	if m := c.Schedule.IntervalMinutes; m < 1 || m > maxIntervalMinutes {
		add("schedule.interval_minutes must be between 1 and %d, got %d", maxIntervalMinutes, m)
	}
	switch c.Notify.Summary {
	case SummaryNever, SummaryChanges, SummaryAlways:
	default:
		add("notify.summary must be never, changes or always, got %q", c.Notify.Summary)
	}
	switch c.State.Backend {
	case store.BackendFile, store.BackendSQLite:
	default:
		add("state.backend must be %s or %s, got %q", store.BackendFile, store.BackendSQLite, c.State.Backend)
	}
	if _, err := appLog.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// QuietWindow is the configured default quiet window. Invalid bounds
// disable it; Validate reports them.
func (c *Config) QuietWindow() quiet.Window {
	w, err := quiet.Parse(c.Notify.QuietStart, c.Notify.QuietEnd)
	if err != nil {
		return quiet.Window{}
	}
	return w
}

// Interval is the configured poll interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Schedule.IntervalMinutes) * time.Minute
}

// LockWait is the bounded wait for the run lock.
func (c *Config) LockWait() time.Duration {
	return time.Duration(c.Schedule.LockWaitSec) * time.Second
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".uesbot-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
