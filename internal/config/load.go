package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces the environment overlay.
const EnvPrefix = "TUNNELWATCH"

// Defaults returns baseline settings used before file, environment and CLI overrides.
func Defaults() Config {
	return Config{
		Threshold:      30,
		CheckInterval:  300 * time.Second,
		ErrorBackoff:   60 * time.Second,
		DebounceWindow: 2 * time.Minute,
		ServerName:     "tunnel-server",
		BusinessHours:  BusinessHours{Start: 6, End: 18},
		Metric: MetricConfig{
			Timeout:            10 * time.Second,
			InsecureSkipVerify: true,
		},
		Webhook: WebhookConfig{
			URL:     "http://localhost:8888/v1/webhooks/udm/clients",
			Timeout: 10 * time.Second,
		},
		ControlPlane: ControlPlaneConfig{Host: "http://localhost:8888"},
		Actions: ActionsConfig{
			Timeout: 60 * time.Second,
			Up:      []string{"bash", "scripts/startup-tunnel.sh"},
			Down:    []string{"bash", "scripts/shutdown-tunnel.sh"},
		},
		Files: FilesConfig{
			TaskRecord: "last_task.json",
			Status:     "udm_status.json",
		},
		Redis: RedisConfig{
			Key: "udm:client_count",
			TTL: time.Hour,
		},
		Log: LogConfig{
			Level: "info",
			File:  "tunnelwatch.log",
		},
	}
}

// Load resolves the configuration: defaults, then the YAML file at path (skipped when
// path is empty), then the environment, then CLI overrides. The result is validated.
func Load(path string, overrides CLIOverrides) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	var env EnvOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	applyEnv(&cfg, env)
	applyCLIOverrides(&cfg, overrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeYAML overlays the document onto cfg. Unknown keys are rejected so typos surface.
func decodeYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, env EnvOverrides) {
	setString(&cfg.Metric.APIKey, env.APIKey)
	setString(&cfg.Metric.URL, env.MetricURL)
	setString(&cfg.ServerName, env.ServerName)
	setString(&cfg.ControlPlane.Host, env.ControlPlaneHost)
	setString(&cfg.Webhook.URL, env.WebhookURL)
	setString(&cfg.Redis.Addr, env.RedisAddr)
	setString(&cfg.Redis.Password, env.RedisPassword)
	setString(&cfg.Log.Level, env.LogLevel)
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func applyCLIOverrides(cfg *Config, overrides CLIOverrides) {
	if overrides.Interval != nil {
		cfg.CheckInterval = *overrides.Interval
	}
	if overrides.Threshold != nil {
		cfg.Threshold = *overrides.Threshold
	}
	if overrides.Debounce != nil {
		cfg.DebounceWindow = *overrides.Debounce
	}
	if overrides.ServerName != nil {
		cfg.ServerName = *overrides.ServerName
	}
	if overrides.MetricsListen != nil {
		cfg.Metrics.Listen = *overrides.MetricsListen
	}
	if overrides.UIEnable != nil {
		cfg.UI.Enable = *overrides.UIEnable
	}
	if overrides.LogLevel != nil {
		cfg.Log.Level = *overrides.LogLevel
	}
	if isDigits(cfg.Metrics.Listen) {
		cfg.Metrics.Listen = ":" + cfg.Metrics.Listen
	}
}

// Validate reports the first setting that would make the loop misbehave.
func (c *Config) Validate() error {
	switch {
	case c.Threshold < 0:
		return fmt.Errorf("threshold must be >= 0, got %d", c.Threshold)
	case c.CheckInterval <= 0:
		return fmt.Errorf("check_interval must be positive, got %v", c.CheckInterval)
	case c.ErrorBackoff <= 0:
		return fmt.Errorf("error_backoff must be positive, got %v", c.ErrorBackoff)
	case c.DebounceWindow <= 0:
		return fmt.Errorf("debounce_window must be positive, got %v", c.DebounceWindow)
	case strings.TrimSpace(c.ServerName) == "":
		return errors.New("server_name must not be empty")
	case strings.TrimSpace(c.Metric.URL) == "":
		return errors.New("metric.url must be set")
	case c.Metric.Timeout <= 0:
		return fmt.Errorf("metric.timeout must be positive, got %v", c.Metric.Timeout)
	case c.Webhook.URL != "" && c.Webhook.Timeout <= 0:
		return fmt.Errorf("webhook.timeout must be positive, got %v", c.Webhook.Timeout)
	case c.Actions.Timeout <= 0:
		return fmt.Errorf("actions.timeout must be positive, got %v", c.Actions.Timeout)
	case len(c.Actions.Up) == 0 || c.Actions.Up[0] == "":
		return errors.New("actions.up must name a command")
	case len(c.Actions.Down) == 0 || c.Actions.Down[0] == "":
		return errors.New("actions.down must name a command")
	case c.Files.TaskRecord == "":
		return errors.New("files.task_record must be set")
	case c.Files.Status == "":
		return errors.New("files.status must be set")
	case c.BusinessHours.Start < 0 || c.BusinessHours.End > 24 || c.BusinessHours.Start >= c.BusinessHours.End:
		return fmt.Errorf("business_hours must satisfy 0 <= start < end <= 24, got %d-%d",
			c.BusinessHours.Start, c.BusinessHours.End)
	}
	return nil
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
