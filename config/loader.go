package config

import (
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Zereker/msgnet"
)

// EnvPrefix prefixes every environment override, e.g. MSGNET_PORT.
const EnvPrefix = "MSGNET"

// HookFunc is called after a reload with the previous and the new config.
// Returning an error keeps the previous config.
type HookFunc func(oldVal, newVal Config) error

// Load reads the YAML file at path into cfg, applies environment overrides
// and validates the result. An empty path loads defaults and environment
// only.
func Load(path string, cfg Config) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if d, ok := cfg.(defaulter); ok {
		d.SetDefaults(v)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrap(err, "read config failed")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return errors.Wrap(err, "unmarshal config failed")
	}

	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "validate config failed")
	}

	return nil
}

// Loader holds a loaded config and reloads it when its file changes.
type Loader struct {
	path   string
	logger msgnet.Logger

	mu      sync.RWMutex
	cfg     Config
	hooks   []HookFunc
	watcher *fsnotify.Watcher
}

// NewLoader loads cfg from path and returns a loader serving it.
func NewLoader(path string, cfg Config, logger msgnet.Logger) (*Loader, error) {
	if err := Load(path, cfg); err != nil {
		return nil, err
	}

	return &Loader{
		path:   path,
		logger: logger,
		cfg:    cfg,
	}, nil
}

// Config returns the current config.
func (l *Loader) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// OnChange registers a hook run on every successful reload.
func (l *Loader) OnChange(hook HookFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Watch starts reloading the config whenever its file is written or
// replaced. It does nothing for a loader without a file.
func (l *Loader) Watch() error {
	if l.path == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watch config file failed")
	}

	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		_ = watcher.Close()
		return errors.Wrap(err, "watch config file failed")
	}
	l.watcher = watcher

	target := filepath.Clean(l.path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) == target && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					l.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("config watcher error", "path", l.path, "error", err)
			}
		}
	}()

	return nil
}

// reload loads a fresh copy of the config. Any failure keeps the old one.
func (l *Loader) reload() {
	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.cfg
	fresh := reflect.New(reflect.TypeOf(old).Elem()).Interface().(Config)

	if err := Load(l.path, fresh); err != nil {
		l.logger.Warn("config reload failed", "path", l.path, "error", err)
		return
	}

	for _, hook := range l.hooks {
		if err := hook(old, fresh); err != nil {
			l.logger.Warn("config hook failed", "path", l.path, "error", err)
			return
		}
	}

	l.cfg = fresh
	l.logger.Info("config reloaded", "path", l.path, "name", fresh.GetName())
}

// Close stops watching.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
