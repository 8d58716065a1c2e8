package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/turtacn/Fopwatch/pkg/consts"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the root configuration of fopwatch.
type Config struct {
	Version       string              `yaml:"version"`
	Engine        EngineConfig        `yaml:"engine"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Control       ControlConfig       `yaml:"control"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type EngineConfig struct {
	Command        []string      `yaml:"command"`      // Explicit launch argv, bypasses java resolution
	JavaPath       string        `yaml:"java_path"`    // Default: bundled jre, then PATH
	FopDir         string        `yaml:"fop_dir"`      // Contains build/ and lib/ jars
	ServerDir      string        `yaml:"server_dir"`   // Holds FopServer.class
	ServerClass    string        `yaml:"server_class"` // Main class of the worker
	JVMArgs        []string      `yaml:"jvm_args"`
	Env            []string      `yaml:"env"`
	WorkDir        string        `yaml:"work_dir"`
	ReadyTimeout   string        `yaml:"ready_timeout"`
	ShutdownGrace  string        `yaml:"shutdown_grace"`
	RequestTimeout string        `yaml:"request_timeout"`
	MaxFrameBytes  int           `yaml:"max_frame_bytes"` // Largest response line, 0 selects consts.MaxResponseFrame
	Restart        RestartConfig `yaml:"restart"`
}

type RestartConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
}

type WorkspaceConfig struct {
	Roots     []string `yaml:"roots"`
	WatchDirs []string `yaml:"watch_dirs"` // Subdirectories of each root holding documents
	Debounce  string   `yaml:"debounce"`
	OutputDir string   `yaml:"output_dir"` // Default <root>/.fopwatch
}

// ControlConfig locates the local socket through which a running server is driven.
type ControlConfig struct {
	Socket  string `yaml:"socket"` // Empty disables the control socket
	Timeout string `yaml:"timeout"`
}

type ObservabilityConfig struct {
	MetricsPort string `yaml:"metrics_port"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Engine: EngineConfig{
			ServerClass:    consts.DefaultServerClass,
			ReadyTimeout:   consts.DefaultReadyTimeout.String(),
			ShutdownGrace:  consts.DefaultShutdownGrace.String(),
			RequestTimeout: consts.DefaultRequestTimeout.String(),
			Restart: RestartConfig{
				MaxAttempts: consts.DefaultRestartMax,
				Backoff:     consts.DefaultRestartBackoff.String(),
			},
		},
		Workspace: WorkspaceConfig{
			WatchDirs: []string{"xml", "xsl"},
			Debounce:  consts.DefaultDebounce.String(),
		},
		Control: ControlConfig{
			Socket:  filepath.Join(os.TempDir(), consts.DefaultControlSocket),
			Timeout: consts.DefaultControlTimeout.String(),
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

// LoadConfig reads a YAML file over the defaults. A missing file is an error
// only when mustExist is set.
func LoadConfig(path string, mustExist bool) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, nil
		}
		return nil, fperrors.New(fperrors.ErrCodeConfigInvalid, "LoadConfig", "cannot read config "+path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fperrors.New(fperrors.ErrCodeConfigInvalid, "LoadConfig", "cannot parse config "+path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every duration and numeric setting.
func (c *Config) Validate() error {
	durations := map[string]string{
		"engine.ready_timeout":   c.Engine.ReadyTimeout,
		"engine.shutdown_grace":  c.Engine.ShutdownGrace,
		"engine.request_timeout": c.Engine.RequestTimeout,
		"engine.restart.backoff": c.Engine.Restart.Backoff,
		"workspace.debounce":     c.Workspace.Debounce,
		"control.timeout":        c.Control.Timeout,
	}
	for key, raw := range durations {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return fperrors.New(fperrors.ErrCodeConfigInvalid, "Validate", fmt.Sprintf("%s: invalid duration %q", key, raw), err)
		}
	}
	if c.Engine.MaxFrameBytes < 0 {
		return fperrors.New(fperrors.ErrCodeConfigInvalid, "Validate", "engine.max_frame_bytes must not be negative", nil)
	}
	if c.Engine.Restart.MaxAttempts < 0 {
		return fperrors.New(fperrors.ErrCodeConfigInvalid, "Validate", "engine.restart.max_attempts must not be negative", nil)
	}
	return nil
}

// ParseDurationOr parses raw, falling back to def for empty or zero values.
// Config is validated on load, so parse errors also fall back.
func ParseDurationOr(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (e EngineConfig) ReadyTimeoutDuration() time.Duration {
	return ParseDurationOr(e.ReadyTimeout, consts.DefaultReadyTimeout)
}

func (e EngineConfig) ShutdownGraceDuration() time.Duration {
	return ParseDurationOr(e.ShutdownGrace, consts.DefaultShutdownGrace)
}

func (e EngineConfig) RequestTimeoutDuration() time.Duration {
	return ParseDurationOr(e.RequestTimeout, consts.DefaultRequestTimeout)
}

func (r RestartConfig) BackoffDuration() time.Duration {
	return ParseDurationOr(r.Backoff, consts.DefaultRestartBackoff)
}

func (w WorkspaceConfig) DebounceDuration() time.Duration {
	return ParseDurationOr(w.Debounce, consts.DefaultDebounce)
}

func (c ControlConfig) TimeoutDuration() time.Duration {
	return ParseDurationOr(c.Timeout, consts.DefaultControlTimeout)
}

// Personal.AI order the ending
