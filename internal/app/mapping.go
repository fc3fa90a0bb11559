package app

import (
	"serialnotify/internal/admin"
	"serialnotify/internal/config"
	"serialnotify/internal/delivery"
	"serialnotify/internal/detect"
	"serialnotify/internal/fetch"
	"serialnotify/internal/importer"
	"serialnotify/internal/provider/telegram"
	"serialnotify/internal/source"
	"serialnotify/internal/storage"
	logx "serialnotify/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: cfg.BusyTimeout(),
		FeedPoll:    cfg.FeedPoll(),
	}
}

func mapFetchConfig(cfg *config.Config) fetch.Config {
	return fetch.Config{
		MaxConcurrent: int64(cfg.Fetch.MaxConcurrent),
		Shots:         cfg.Fetch.Shots,
		RetryDelay:    cfg.FetchRetryDelay(),
		Timeout:       cfg.RequestTimeout(),
		UserAgent:     cfg.Source.UserAgent,
	}
}

func mapSite(cfg *config.Config) source.Site {
	return source.Site{BaseURL: cfg.Source.BaseURL}
}

func mapImporterConfig(cfg *config.Config) importer.Config {
	return importer.Config{MaxPages: cfg.Importer.MaxPages, Concurrency: cfg.Importer.Concurrency}
}

func mapDetectConfig(cfg *config.Config) detect.Config {
	return detect.Config{Bootstrap: cfg.Scanner.Bootstrap}
}

func mapDeliveryConfig(cfg *config.Config) delivery.Config {
	return delivery.Config{
		Workers:             cfg.Delivery.Workers,
		RatePerSec:          cfg.Delivery.RatePerSec,
		SendTimeout:         cfg.SendTimeout(),
		Lease:               cfg.Lease(),
		MaxRateLimitRetries: cfg.Delivery.MaxRateLimitRetries,
		MaxRateLimitWait:    cfg.MaxRateLimitWait(),
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Bot.Token,
		PollTimeout: cfg.PollTimeout(),
		SendTimeout: cfg.SendTimeout(),
	}
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	return admin.Config{
		Addr:             cfg.Admin.Addr,
		Token:            cfg.Admin.Token,
		AllowNonLoopback: cfg.Admin.AllowNonLoopback,
		Pprof:            cfg.Admin.Pprof,
	}
}

// mapLogConfig builds the logger config. Alerts stay off until a sender
// exists and a chat is configured.
func mapLogConfig(cfg *config.Config, alerts bool) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    alerts && l.Alerts.Enabled && cfg.Bot.LogChatID != 0,
			ChatID:     cfg.Bot.LogChatID,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}
