package config

import (
	"os"
	"path/filepath"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

const envPrefix = "SERIALNOTIFY_"

// applyEnv overrides file values with SERIALNOTIFY_* variables. Secrets are
// expected to arrive this way rather than through the config file.
func applyEnv(cfg *Config) {
	cfg.Bot.Token = env.GetString(envPrefix+"BOT_TOKEN", cfg.Bot.Token)
	cfg.Source.BaseURL = env.GetString(envPrefix+"SOURCE_BASE_URL", cfg.Source.BaseURL)
	cfg.Storage.Driver = env.GetString(envPrefix+"STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Path = env.GetString(envPrefix+"STORAGE_PATH", cfg.Storage.Path)
	cfg.Storage.DSN = env.GetString(envPrefix+"STORAGE_DSN", cfg.Storage.DSN)
	cfg.Logging.Level = env.GetString(envPrefix+"LOG_LEVEL", cfg.Logging.Level)
	cfg.Admin.Enabled = env.GetBool(envPrefix+"ADMIN_ENABLED", cfg.Admin.Enabled)
	cfg.Admin.Addr = env.GetString(envPrefix+"ADMIN_ADDR", cfg.Admin.Addr)
	cfg.Admin.Token = env.GetString(envPrefix+"ADMIN_TOKEN", cfg.Admin.Token)
	cfg.Fetch.MaxConcurrent = env.GetInt(envPrefix+"FETCH_MAX_CONCURRENT", cfg.Fetch.MaxConcurrent)
}

// loadDotEnv loads the nearest .env walking up from the working directory.
// Variables already set in the environment win.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		p := filepath.Join(dir, ".env")
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
