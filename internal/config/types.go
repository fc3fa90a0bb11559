package config

// Config is the file format. Durations are Go duration strings ("500ms", "10s").
// Zero values mean "use the default" and are filled by ApplyDefaults.
type Config struct {
	Bot      BotConfig      `json:"bot"`
	Source   SourceConfig   `json:"source"`
	Fetch    FetchConfig    `json:"fetch"`
	Scanner  ScannerConfig  `json:"scanner"`
	Importer ImporterConfig `json:"importer"`
	Delivery DeliveryConfig `json:"delivery"`
	Storage  StorageConfig  `json:"storage"`
	Admin    AdminConfig    `json:"admin"`
	Logging  LoggingConfig  `json:"logging"`
}

type BotConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// LogChatID receives warn+ log lines when logging.alerts is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
}

type SourceConfig struct {
	BaseURL        string `json:"base_url"`
	UserAgent      string `json:"user_agent,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type FetchConfig struct {
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
	Shots         int    `json:"shots,omitempty"`
	RetryDelay    string `json:"retry_delay,omitempty"`
}

const (
	BootstrapNotify = "notify"
	BootstrapSeed   = "seed"
)

type ScannerConfig struct {
	Schedule string `json:"schedule,omitempty"`
	// Bootstrap decides the first cycle without a watermark:
	// "notify" fans out every listed event, "seed" only records the newest one.
	Bootstrap string `json:"bootstrap,omitempty"`
}

type ImporterConfig struct {
	Enabled     bool   `json:"enabled"`
	Schedule    string `json:"schedule,omitempty"`
	MaxPages    int    `json:"max_pages,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
}

type DeliveryConfig struct {
	Workers             int     `json:"workers,omitempty"`
	RatePerSec          float64 `json:"rate_per_sec,omitempty"`
	SendTimeout         string  `json:"send_timeout,omitempty"`
	Lease               string  `json:"lease,omitempty"`
	// MaxRateLimitRetries counts retries after the first send.
	MaxRateLimitRetries int     `json:"max_rate_limit_retries,omitempty"`
	MaxRateLimitWait    string  `json:"max_rate_limit_wait,omitempty"`
	RefreshInterval     string  `json:"refresh_interval,omitempty"`
	Template            string  `json:"template,omitempty"`
}

type StorageConfig struct {
	Driver        string `json:"driver,omitempty"` // sqlite | postgres
	Path          string `json:"path,omitempty"`
	DSN           string `json:"dsn,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"`
	FeedPoll      string `json:"feed_poll,omitempty"`
	FeedRetention string `json:"feed_retention,omitempty"`
}

type AdminConfig struct {
	Enabled          bool   `json:"enabled"`
	Addr             string `json:"addr,omitempty"`
	Token            string `json:"token,omitempty"`
	AllowNonLoopback bool   `json:"allow_non_loopback,omitempty"`
	Pprof            bool   `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}
