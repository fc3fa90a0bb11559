package config

import "time"

func (c *Config) PollTimeout() time.Duration {
	return mustDuration("bot.poll_timeout", c.Bot.PollTimeout, 10*time.Second)
}

func (c *Config) RequestTimeout() time.Duration {
	return mustDuration("source.request_timeout", c.Source.RequestTimeout, 15*time.Second)
}

func (c *Config) FetchRetryDelay() time.Duration {
	return mustDuration("fetch.retry_delay", c.Fetch.RetryDelay, 500*time.Millisecond)
}

func (c *Config) SendTimeout() time.Duration {
	return mustDuration("delivery.send_timeout", c.Delivery.SendTimeout, 30*time.Second)
}

func (c *Config) Lease() time.Duration {
	return mustDuration("delivery.lease", c.Delivery.Lease, 2*time.Minute)
}

func (c *Config) MaxRateLimitWait() time.Duration {
	return mustDuration("delivery.max_rate_limit_wait", c.Delivery.MaxRateLimitWait, 5*time.Minute)
}

func (c *Config) RefreshInterval() time.Duration {
	return mustDuration("delivery.refresh_interval", c.Delivery.RefreshInterval, 5*time.Second)
}

func (c *Config) BusyTimeout() time.Duration {
	return mustDuration("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
}

func (c *Config) FeedPoll() time.Duration {
	return mustDuration("storage.feed_poll", c.Storage.FeedPoll, time.Second)
}

func (c *Config) FeedRetention() time.Duration {
	return mustDuration("storage.feed_retention", c.Storage.FeedRetention, 24*time.Hour)
}
