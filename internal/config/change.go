package config

import "reflect"

// Diff lists the top-level sections that differ between two configs and
// whether any of them needs a restart. Only logging is applied live.
func Diff(prev, next *Config) (changed []string, restartRequired bool) {
	if prev == nil {
		prev = &Config{}
	}
	if next == nil {
		next = &Config{}
	}
	sections := []struct {
		name string
		a, b any
	}{
		{"bot", prev.Bot, next.Bot},
		{"source", prev.Source, next.Source},
		{"fetch", prev.Fetch, next.Fetch},
		{"scanner", prev.Scanner, next.Scanner},
		{"importer", prev.Importer, next.Importer},
		{"delivery", prev.Delivery, next.Delivery},
		{"storage", prev.Storage, next.Storage},
		{"admin", prev.Admin, next.Admin},
		{"logging", prev.Logging, next.Logging},
	}
	for _, s := range sections {
		if reflect.DeepEqual(s.a, s.b) {
			continue
		}
		changed = append(changed, s.name)
		if s.name != "logging" {
			restartRequired = true
		}
	}
	return changed, restartRequired
}
