package config

import "time"

// BusinessHours is the local-time window [Start, End) used only for log annotation.
type BusinessHours struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// MetricConfig describes the client-count endpoint on the gateway.
type MetricConfig struct {
	URL                string        `yaml:"url"`
	APIKey             string        `yaml:"api_key"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Probe              bool          `yaml:"probe"`
}

// WebhookConfig describes the control-plane mirror. An empty URL disables it.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ControlPlaneConfig struct {
	Host string `yaml:"host"`
}

// ActionsConfig holds the lifecycle commands run on UP and DOWN transitions.
type ActionsConfig struct {
	Timeout    time.Duration     `yaml:"timeout"`
	Up         []string          `yaml:"up"`
	Down       []string          `yaml:"down"`
	Dir        string            `yaml:"dir"`
	InheritEnv bool              `yaml:"inherit_env"`
	Env        map[string]string `yaml:"env"`
}

type FilesConfig struct {
	TaskRecord string `yaml:"task_record"`
	Status     string `yaml:"status"`
}

// RedisConfig enables the control-plane Redis mirror when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type UIConfig struct {
	Enable bool `yaml:"enable"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Config is the fully resolved configuration.
type Config struct {
	Threshold      int                `yaml:"threshold"`
	CheckInterval  time.Duration      `yaml:"check_interval"`
	ErrorBackoff   time.Duration      `yaml:"error_backoff"`
	DebounceWindow time.Duration      `yaml:"debounce_window"`
	ServerName     string             `yaml:"server_name"`
	BusinessHours  BusinessHours      `yaml:"business_hours"`
	Metric         MetricConfig       `yaml:"metric"`
	Webhook        WebhookConfig      `yaml:"webhook"`
	ControlPlane   ControlPlaneConfig `yaml:"control_plane"`
	Actions        ActionsConfig      `yaml:"actions"`
	Files          FilesConfig        `yaml:"files"`
	Redis          RedisConfig        `yaml:"redis"`
	Metrics        MetricsConfig      `yaml:"metrics"`
	UI             UIConfig           `yaml:"ui"`
	Log            LogConfig          `yaml:"log"`
}

// CLIOverrides holds optional CLI values that override file and environment values.
type CLIOverrides struct {
	Interval      *time.Duration
	Threshold     *int
	Debounce      *time.Duration
	ServerName    *string
	MetricsListen *string
	UIEnable      *bool
	LogLevel      *string
}

// EnvOverrides is read with envconfig under the TUNNELWATCH_ prefix. API_KEY alone
// also falls back to the bare name. Empty values leave the config untouched.
type EnvOverrides struct {
	APIKey           string `envconfig:"API_KEY"`
	MetricURL        string `split_words:"true"`
	ServerName       string `split_words:"true"`
	ControlPlaneHost string `split_words:"true"`
	WebhookURL       string `split_words:"true"`
	RedisAddr        string `split_words:"true"`
	RedisPassword    string `split_words:"true"`
	LogLevel         string `split_words:"true"`
}
