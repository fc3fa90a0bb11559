package config

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "serialnotify/pkg/logx"
)

// Manager holds the current config and republishes it when the file changes.
type Manager struct {
	path string
	log  logx.Logger

	mu   sync.RWMutex
	cfg  *Config
	subs []chan *Config
}

func NewManager(path string, initial *Config, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{path: path, cfg: initial, log: log}
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel receiving every accepted config. A slow
// subscriber only ever sees the latest one.
func (m *Manager) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Reload re-reads the file. An invalid file is logged and ignored.
func (m *Manager) Reload() {
	next, err := Load(m.path)
	if err != nil {
		m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
		return
	}

	m.mu.Lock()
	prev := m.cfg
	if reflect.DeepEqual(prev, next) {
		m.mu.Unlock()
		return
	}
	m.cfg = next
	subs := append([]chan *Config(nil), m.subs...)
	m.mu.Unlock()

	changed, restart := Diff(prev, next)
	m.log.Info("config reloaded", logx.Strings("changed", changed), logx.Bool("restart_required", restart))
	for _, ch := range subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

// Watch blocks until ctx ends, reloading after file events settle.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: editors often replace the file instead of writing it.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		return err
	}
	name := filepath.Base(m.path)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(250 * time.Millisecond)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("config watch error", logx.Err(err))
		case <-debounce:
			debounce = nil
			m.Reload()
		}
	}
}
