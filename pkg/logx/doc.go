// Package logx is serialnotify's structured logging layer.
//
// Logger is a small value type over zerolog. A Service owns the root logger and
// its sinks (console, JSON file, operator alerts) and can swap them at runtime
// when the config file changes.
package logx
