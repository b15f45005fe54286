package cli

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/doridoridoriand/tunnelwatch/internal/config"
)

// OptionalDuration records a duration flag and whether it was set.
type OptionalDuration struct {
	value time.Duration
	set   bool
}

func (o *OptionalDuration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}

func (o *OptionalDuration) String() string {
	if !o.set {
		return ""
	}
	return o.value.String()
}

func (o *OptionalDuration) Value() (time.Duration, bool) {
	return o.value, o.set
}

// OptionalInt records an int flag and whether it was set.
type OptionalInt struct {
	value int
	set   bool
}

func (o *OptionalInt) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}

func (o *OptionalInt) String() string {
	if !o.set {
		return ""
	}
	return strconv.Itoa(o.value)
}

func (o *OptionalInt) Value() (int, bool) {
	return o.value, o.set
}

// OptionalString records a string flag and whether it was set.
type OptionalString struct {
	value string
	set   bool
}

func (o *OptionalString) Set(s string) error {
	o.value = s
	o.set = true
	return nil
}

func (o *OptionalString) String() string {
	if !o.set {
		return ""
	}
	return o.value
}

func (o *OptionalString) Value() (string, bool) {
	return o.value, o.set
}

// OptionalBool records a bool flag and whether it was set.
type OptionalBool struct {
	value bool
	set   bool
}

func (o *OptionalBool) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}

func (o *OptionalBool) String() string {
	if !o.set {
		return ""
	}
	if o.value {
		return "true"
	}
	return "false"
}

func (o *OptionalBool) IsBoolFlag() bool {
	return true
}

func (o *OptionalBool) Value() (bool, bool) {
	return o.value, o.set
}

// OptionalLevel records a log level flag, rejecting names the logger does not know.
type OptionalLevel struct {
	value string
	set   bool
}

func (o *OptionalLevel) Set(s string) error {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %q (valid values: debug, info, warn, error)", s)
	}
	o.value = v
	o.set = true
	return nil
}

func (o *OptionalLevel) String() string {
	if !o.set {
		return ""
	}
	return o.value
}

func (o *OptionalLevel) Value() (string, bool) {
	return o.value, o.set
}

// Flags is the command line surface of tunnelwatch.
type Flags struct {
	Interval      OptionalDuration
	Threshold     OptionalInt
	Debounce      OptionalDuration
	Server        OptionalString
	MetricsListen OptionalString
	UI            OptionalBool
	LogLevel      OptionalLevel
	Once          bool
	Version       bool
}

// Register binds every flag to fs. Short aliases share the long flag's value.
func (f *Flags) Register(fs *flag.FlagSet) {
	fs.Var(&f.Interval, "interval", "check interval between iterations (override config)")
	fs.Var(&f.Interval, "i", "check interval between iterations (override config)")
	fs.Var(&f.Threshold, "threshold", "client count threshold (override config)")
	fs.Var(&f.Debounce, "debounce", "duplicate trigger window (override config)")
	fs.Var(&f.Server, "server", "server name passed to actions as SERVER_NAME")
	fs.Var(&f.MetricsListen, "metrics-listen", "metrics listen address (e.g. :9100)")
	fs.Var(&f.UI, "ui", "show the terminal dashboard (logs go to log.file)")
	fs.Var(&f.LogLevel, "log-level", "log level: debug|info|warn|error")
	fs.BoolVar(&f.Once, "once", false, "run a single iteration and exit")
	fs.BoolVar(&f.Version, "version", false, "show version")
	fs.BoolVar(&f.Version, "v", false, "show version")
}

// Overrides converts the flags that were actually given into config overrides.
func (f *Flags) Overrides() config.CLIOverrides {
	overrides := config.CLIOverrides{}

	if v, ok := f.Interval.Value(); ok {
		value := v
		overrides.Interval = &value
	}
	if v, ok := f.Threshold.Value(); ok {
		value := v
		overrides.Threshold = &value
	}
	if v, ok := f.Debounce.Value(); ok {
		value := v
		overrides.Debounce = &value
	}
	if v, ok := f.Server.Value(); ok && v != "" {
		value := v
		overrides.ServerName = &value
	}
	if v, ok := f.MetricsListen.Value(); ok && v != "" {
		value := v
		overrides.MetricsListen = &value
	}
	if v, ok := f.UI.Value(); ok {
		value := v
		overrides.UIEnable = &value
	}
	if v, ok := f.LogLevel.Value(); ok {
		value := v
		overrides.LogLevel = &value
	}

	return overrides
}
