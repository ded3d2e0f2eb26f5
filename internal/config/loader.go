// Package config loads engine configuration from yaml, json or toml files.
// Zero values mean "unspecified" and are replaced by defaults in Normalized.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the engine and its control API.
type Config struct {
	// Addr is the listen address of the control-plane HTTP API.
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	Server       Server       `json:"server" yaml:"server" toml:"server"`
	Conversation Conversation `json:"conversation" yaml:"conversation" toml:"conversation"`
	Generation   Generation   `json:"generation" yaml:"generation" toml:"generation"`
}

// Server configures the managed llama-server subprocess.
type Server struct {
	// BinaryPath is an explicit llama-server binary location. When empty,
	// the supervisor searches its standard locations.
	BinaryPath string `json:"binary_path" yaml:"binary_path" toml:"binary_path"`
	// ModelPath is the GGUF model file to serve.
	ModelPath string `json:"model_path" yaml:"model_path" toml:"model_path"`
	// ModelsDir is scanned for *.gguf files by GET /models.
	ModelsDir   string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	Port        int    `json:"port" yaml:"port" toml:"port"`
	ContextSize int    `json:"context_size" yaml:"context_size" toml:"context_size"`
	GPULayers   int    `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	// HealthIntervalSeconds is the liveness-probe period.
	HealthIntervalSeconds int `json:"health_interval_seconds" yaml:"health_interval_seconds" toml:"health_interval_seconds"`
	// StopTimeoutSeconds bounds the graceful-termination wait before SIGKILL.
	StopTimeoutSeconds int `json:"stop_timeout_seconds" yaml:"stop_timeout_seconds" toml:"stop_timeout_seconds"`
	// StartTimeoutSeconds bounds the wait for the first successful probe.
	StartTimeoutSeconds int `json:"start_timeout_seconds" yaml:"start_timeout_seconds" toml:"start_timeout_seconds"`
}

// Conversation configures the multi-turn context buffer.
type Conversation struct {
	// MaxTurns is the number of prior user/assistant pairs to keep; 0
	// disables conversation memory entirely.
	MaxTurns int `json:"max_turns" yaml:"max_turns" toml:"max_turns"`
	// MaxChars bounds the assembled prompt length (character proxy for
	// token count).
	MaxChars int `json:"max_chars" yaml:"max_chars" toml:"max_chars"`
	// Role tag markers. All three must be set together; otherwise the
	// ChatML defaults apply.
	UserOpen      string `json:"user_open" yaml:"user_open" toml:"user_open"`
	AssistantOpen string `json:"assistant_open" yaml:"assistant_open" toml:"assistant_open"`
	CloseTag      string `json:"close_tag" yaml:"close_tag" toml:"close_tag"`
}

// Generation configures retry, timeout and admission behavior.
type Generation struct {
	RequestTimeoutSeconds int `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	MaxQueueDepth         int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds        int `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
}

// Defaults applied by Normalized when fields are unset.
const (
	DefaultAddr           = "127.0.0.1:7080"
	DefaultPort           = 8080
	DefaultContextSize    = 4096
	DefaultHealthInterval = 10 * time.Second
	DefaultStopTimeout    = 5 * time.Second
	DefaultStartTimeout   = 30 * time.Second
	DefaultMaxTurns       = 6
	DefaultMaxChars       = 4000
	DefaultRequestTimeout = 120 * time.Second
	DefaultMaxQueueDepth  = 8
	DefaultMaxWait        = 30 * time.Second
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Normalized returns a copy of c with defaults filled in for unset fields.
func (c Config) Normalized() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port <= 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ContextSize <= 0 {
		c.Server.ContextSize = DefaultContextSize
	}
	if c.Server.HealthIntervalSeconds <= 0 {
		c.Server.HealthIntervalSeconds = int(DefaultHealthInterval / time.Second)
	}
	if c.Server.StopTimeoutSeconds <= 0 {
		c.Server.StopTimeoutSeconds = int(DefaultStopTimeout / time.Second)
	}
	if c.Server.StartTimeoutSeconds <= 0 {
		c.Server.StartTimeoutSeconds = int(DefaultStartTimeout / time.Second)
	}
	if c.Conversation.MaxTurns < 0 {
		c.Conversation.MaxTurns = DefaultMaxTurns
	}
	if c.Conversation.MaxChars <= 0 {
		c.Conversation.MaxChars = DefaultMaxChars
	}
	if c.Conversation.UserOpen == "" || c.Conversation.AssistantOpen == "" || c.Conversation.CloseTag == "" {
		c.Conversation.UserOpen = "<|im_start|>user\n"
		c.Conversation.AssistantOpen = "<|im_start|>assistant\n"
		c.Conversation.CloseTag = "<|im_end|>\n"
	}
	if c.Generation.RequestTimeoutSeconds <= 0 {
		c.Generation.RequestTimeoutSeconds = int(DefaultRequestTimeout / time.Second)
	}
	if c.Generation.MaxQueueDepth <= 0 {
		c.Generation.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.Generation.MaxWaitSeconds <= 0 {
		c.Generation.MaxWaitSeconds = int(DefaultMaxWait / time.Second)
	}
	return c
}
