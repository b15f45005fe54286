package cli

import (
	"flag"
	"io"
	"testing"
	"time"
)

func TestOptionalDuration(t *testing.T) {
	var d OptionalDuration
	if d.String() != "" {
		t.Fatalf("expected empty string for unset duration")
	}
	if _, ok := d.Value(); ok {
		t.Fatalf("expected unset duration to report false")
	}
	if err := d.Set("5m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "5m0s" {
		t.Fatalf("expected duration string to be 5m0s, got %q", d.String())
	}
	if v, ok := d.Value(); !ok || v != 5*time.Minute {
		t.Fatalf("expected duration value 5m, got %v (ok=%v)", v, ok)
	}
}

func TestOptionalInt(t *testing.T) {
	var i OptionalInt
	if _, ok := i.Value(); ok {
		t.Fatalf("expected unset int to report false")
	}
	if err := i.Set("30"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := i.Value(); !ok || v != 30 {
		t.Fatalf("expected int value 30, got %v (ok=%v)", v, ok)
	}
}

func TestOptionalString(t *testing.T) {
	var s OptionalString
	if _, ok := s.Value(); ok {
		t.Fatalf("expected unset string to report false")
	}
	if err := s.Set("fusionhub"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := s.Value(); !ok || v != "fusionhub" {
		t.Fatalf("expected string value fusionhub, got %q (ok=%v)", v, ok)
	}
}

func TestOptionalBool(t *testing.T) {
	var b OptionalBool
	if !b.IsBoolFlag() {
		t.Fatalf("expected IsBoolFlag to return true")
	}
	if err := b.Set("false"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.String() != "false" {
		t.Fatalf("expected bool string to be false, got %q", b.String())
	}
	if v, ok := b.Value(); !ok || v {
		t.Fatalf("expected explicit false to be recorded as set, got %v (ok=%v)", v, ok)
	}
}

func TestOptionalLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{input: "debug", expected: "debug"},
		{input: "WARN", expected: "warn"},
		{input: " error ", expected: "error"},
		{input: "verbose", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var l OptionalLevel
			err := l.Set(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for input %q", tt.input)
				}
				if _, ok := l.Value(); ok {
					t.Fatalf("expected level to remain unset after error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for input %q: %v", tt.input, err)
			}
			if v, ok := l.Value(); !ok || v != tt.expected {
				t.Fatalf("expected level %q, got %q (ok=%v)", tt.expected, v, ok)
			}
		})
	}
}

func TestAllFlagTypesErrorHandling(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func() error
	}{
		{name: "OptionalDuration invalid", testFunc: func() error { var d OptionalDuration; return d.Set("soon") }},
		{name: "OptionalInt invalid", testFunc: func() error { var i OptionalInt; return i.Set("thirty") }},
		{name: "OptionalBool invalid", testFunc: func() error { var b OptionalBool; return b.Set("yes please") }},
		{name: "OptionalLevel invalid", testFunc: func() error { var l OptionalLevel; return l.Set("trace") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.testFunc(); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func parseFlags(t *testing.T, args ...string) *Flags {
	t.Helper()
	fs := flag.NewFlagSet("tunnelwatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var f Flags
	f.Register(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return &f
}

func TestFlagsOverridesOnlySetValues(t *testing.T) {
	f := parseFlags(t)
	o := f.Overrides()
	if o.Interval != nil || o.Threshold != nil || o.Debounce != nil || o.ServerName != nil ||
		o.MetricsListen != nil || o.UIEnable != nil || o.LogLevel != nil {
		t.Fatalf("expected no overrides without flags, got %+v", o)
	}
	if f.Once || f.Version {
		t.Fatalf("expected once and version to default to false")
	}
}

func TestFlagsOverrides(t *testing.T) {
	f := parseFlags(t,
		"-i", "90s",
		"--threshold", "12",
		"--debounce", "3m",
		"--server", "fusionhub_office",
		"--metrics-listen", ":9100",
		"--ui",
		"--log-level", "debug",
		"--once",
	)
	o := f.Overrides()

	if o.Interval == nil || *o.Interval != 90*time.Second {
		t.Fatalf("expected interval 90s, got %v", o.Interval)
	}
	if o.Threshold == nil || *o.Threshold != 12 {
		t.Fatalf("expected threshold 12, got %v", o.Threshold)
	}
	if o.Debounce == nil || *o.Debounce != 3*time.Minute {
		t.Fatalf("expected debounce 3m, got %v", o.Debounce)
	}
	if o.ServerName == nil || *o.ServerName != "fusionhub_office" {
		t.Fatalf("expected server fusionhub_office, got %v", o.ServerName)
	}
	if o.MetricsListen == nil || *o.MetricsListen != ":9100" {
		t.Fatalf("expected metrics listen :9100, got %v", o.MetricsListen)
	}
	if o.UIEnable == nil || !*o.UIEnable {
		t.Fatalf("expected ui enabled")
	}
	if o.LogLevel == nil || *o.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %v", o.LogLevel)
	}
	if !f.Once {
		t.Fatalf("expected once to be set")
	}
}

func TestFlagsThresholdZeroIsAnOverride(t *testing.T) {
	o := parseFlags(t, "--threshold", "0").Overrides()
	if o.Threshold == nil || *o.Threshold != 0 {
		t.Fatalf("expected explicit zero threshold to override, got %v", o.Threshold)
	}
}

func TestFlagsVersionShortAlias(t *testing.T) {
	if !parseFlags(t, "-v").Version {
		t.Fatalf("expected -v to set version")
	}
}

func TestFlagsRejectInvalidValues(t *testing.T) {
	for _, args := range [][]string{
		{"--interval", "often"},
		{"--threshold", "many"},
		{"--log-level", "loud"},
	} {
		fs := flag.NewFlagSet("tunnelwatch", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		var f Flags
		f.Register(fs)
		if err := fs.Parse(args); err == nil {
			t.Fatalf("expected parse error for %v", args)
		}
	}
}
