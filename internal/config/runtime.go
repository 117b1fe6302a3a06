package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Runtime holds settings that may change while the process runs.
type Runtime struct {
	LogLevel string `mapstructure:"level"`
}

// RuntimeHolder keeps the latest valid Runtime loaded from greenhouse.yml and
// notifies subscribers when the file changes.
type RuntimeHolder struct {
	current atomic.Value // holds Runtime
	loaded  bool
	log     *zap.Logger

	mu          sync.Mutex
	subscribers []func(Runtime)
}

func DefaultRuntime() Runtime {
	return Runtime{LogLevel: "info"}
}

// NewRuntimeHolder reads the optional runtime config file. A missing file
// leaves the defaults in place and disables hot reload.
// Invalid reloads are logged and the last valid Runtime stays in place.
func NewRuntimeHolder(cfg Config, log *zap.Logger) (*RuntimeHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()

	if cfg.ConfigFile != "" {
		v.SetConfigFile(cfg.ConfigFile)
	} else {
		v.SetConfigName("greenhouse")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/greenhouse")
		v.AddConfigPath(".")
	}

	defaults := DefaultRuntime()
	v.SetDefault("log.level", defaults.LogLevel)

	holder := &RuntimeHolder{log: log.Named("config.runtime")}
	loaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read runtime config: %w", err)
		}
		loaded = false
	}

	current, err := decodeRuntime(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(current)
	holder.loaded = loaded

	if loaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			holder.reload(v, e.Name)
		})
		v.WatchConfig()
	}

	return holder, nil
}

// NewStaticRuntimeHolder returns a holder that never reloads.
func NewStaticRuntimeHolder(rt Runtime) *RuntimeHolder {
	holder := &RuntimeHolder{log: zap.NewNop()}
	holder.current.Store(rt)
	return holder
}

func (h *RuntimeHolder) Get() Runtime {
	return h.current.Load().(Runtime)
}

// Loaded reports whether a runtime config file was found.
func (h *RuntimeHolder) Loaded() bool {
	return h.loaded
}

// Subscribe registers fn to receive every valid reload.
func (h *RuntimeHolder) Subscribe(fn func(Runtime)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.subscribers = append(h.subscribers, fn)
	h.mu.Unlock()
}

func (h *RuntimeHolder) reload(v *viper.Viper, file string) {
	updated, err := decodeRuntime(v)
	if err != nil {
		h.log.Warn("runtime config reload ignored",
			zap.String("file", file),
			zap.String("log_level", h.Get().LogLevel),
			zap.Error(err),
		)
		return
	}
	h.log.Info("runtime config reloaded", zap.String("file", file))
	h.set(updated)
}

func (h *RuntimeHolder) set(rt Runtime) {
	h.current.Store(rt)

	h.mu.Lock()
	subs := append([]func(Runtime){}, h.subscribers...)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(rt)
	}
}

func decodeRuntime(v *viper.Viper) (Runtime, error) {
	var rt Runtime
	if err := v.UnmarshalKey("log", &rt); err != nil {
		return Runtime{}, fmt.Errorf("decode runtime config: %w", err)
	}
	if err := validateRuntime(rt); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}

func validateRuntime(rt Runtime) error {
	level := strings.TrimSpace(rt.LogLevel)
	if level == "" {
		return errors.New("log.level cannot be empty")
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log.level %q: %w", level, err)
	}
	return nil
}
