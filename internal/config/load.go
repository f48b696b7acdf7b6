package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	appLog "uesbot/internal/log"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// envKeys maps the supported environment variables onto config keys.
var envKeys = map[string]string{
	"TG_BOT_TOKEN":             "telegram.token",
	"TG_CHAT_ID":               "telegram.chat_id",
	"TG_API_BASE":              "telegram.base_url",
	"UES_DRY_RUN":              "telegram.dry_run",
	"UES_USER":                 "portal.username",
	"UES_PASS":                 "portal.password",
	"UES_BASE":                 "portal.base_url",
	"UES_DASHBOARD_URL":        "portal.dashboard_url",
	"UES_PROFILE_DIR":          "portal.profile_dir",
	"UES_CHROMIUM":             "portal.chromium",
	"UES_HEADFUL":              "portal.headful",
	"UES_TZ":                   "timezone",
	"UES_QUIET_START":          "notify.quiet_start",
	"UES_QUIET_END":            "notify.quiet_end",
	"UES_URGENT_HOURS":         "notify.urgent_hours",
	"UES_MAX_CHANGE_ITEMS":     "notify.max_change_items",
	"UES_MAX_SUMMARY_LINES":    "notify.max_summary_lines",
	"UES_NOTIFY_UNCHANGED":     "notify.notify_unchanged",
	"UES_SUMMARY":              "notify.summary",
	"UES_SCRAPE_INTERVAL_MIN":  "schedule.interval_minutes",
	"UES_SCRAPE_LOCK_WAIT_SEC": "schedule.lock_wait_sec",
	"UES_SCRAPE_COOLDOWN_SEC":  "schedule.cooldown_sec",
	"UES_STATE_BACKEND":        "state.backend",
	"UES_STATE_PATH":           "state.path",
	"UES_WEB_LISTEN":           "web.listen",
	"UES_LOG_LEVEL":            "log.level",
	"UES_LOG_FILE":             "log.file",
}

// Load builds the configuration from defaults, the YAML file at path and
// the environment, in increasing precedence.
//
// Behavior:
//   - path empty: no file is read.
//   - file missing: a default config is written with 0600 perms.
//   - the result is normalized but not validated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if err := Save(path, DefaultConfig()); err != nil {
				return nil, fmt.Errorf("write default config: %w", err)
			}
			appLog.Info("default config written", "path", path)
		case err != nil:
			return nil, err
		default:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		// Unknown variables map to "" and are skipped.
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Decoding onto the defaults keeps every key the sources left unset.
	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s is larger than %d bytes", path, maxConfigFileSize)
	}
	if info.Mode().Perm()&0o077 != 0 {
		appLog.Warn("config file is readable by other users", "path", path, "mode", info.Mode().Perm())
	}
	return io.ReadAll(f)
}
