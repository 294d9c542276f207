// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/quicr/config"
	"github.com/creachadair/quicr/transport"
	"github.com/google/go-cmp/cmp"
)

const testTOML = `
[listen]
address = "0.0.0.0"
port = 4433
reply_timeout = "5s"
drain_timeout = "2s"
accept_rate = 100.0

[quic]
idle_timeout = "1m"

[log]
level = "debug"
nocolor = true
`

const testYAML = `
listen:
  address: 0.0.0.0
  port: 4433
  reply_timeout: 5s
  drain_timeout: 2s
  accept_rate: 100
quic:
  idle_timeout: 1m
log:
  level: debug
  nocolor: true
`

func wantParsed() config.Config {
	want := config.Default()
	want.Listen.Address = "0.0.0.0"
	want.Listen.Port = 4433
	want.Listen.ReplyTimeout = 5 * time.Second
	want.Listen.DrainTimeout = 2 * time.Second
	want.Listen.AcceptRate = 100
	want.QUIC.IdleTimeout = time.Minute
	want.Log.Level = "debug"
	want.Log.NoColor = true
	return want
}

func TestParse(t *testing.T) {
	tests := []struct {
		format, input string
	}{
		{"toml", testTOML},
		{"yaml", testYAML},
		{"YML", testYAML},
	}
	for _, tc := range tests {
		t.Run(tc.format, func(t *testing.T) {
			got, err := config.Parse([]byte(tc.input), tc.format)
			if err != nil {
				t.Fatalf("Parse: unexpected error: %v", err)
			}
			if diff := cmp.Diff(wantParsed(), got); diff != "" {
				t.Errorf("Parse (-want, +got):\n%s", diff)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("Validate: unexpected error: %v", err)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	for _, format := range []string{"toml", "yaml"} {
		got, err := config.Parse(nil, format)
		if err != nil {
			t.Fatalf("Parse %s: unexpected error: %v", format, err)
		}
		if diff := cmp.Diff(config.Default(), got); diff != "" {
			t.Errorf("Parse %s (-want, +got):\n%s", format, diff)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		format, input string
	}{
		{"toml", "[listen]\nbogus = 1\n"},
		{"toml", "[listen\n"},
		{"yaml", "listen:\n  bogus: 1\n"},
		{"yaml", "listen: [\n"},
		{"json", "{}"},
	}
	for _, tc := range tests {
		got, err := config.Parse([]byte(tc.input), tc.format)
		if err == nil {
			t.Errorf("Parse %s %q: got %+v, want error", tc.format, tc.input, got)
		} else {
			t.Logf("Error OK: %v", err)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		config.EnvAddress:      "10.0.0.1",
		config.EnvPort:         "9999",
		config.EnvLogLevel:     "WARN",
		config.EnvLogTimestamp: "false",
		config.EnvLogNoColor:   "bogus", // ignored
	}
	cfg := config.Default()
	config.ApplyEnv(&cfg, func(key string) string { return env[key] })

	want := config.Default()
	want.Listen.Address = "10.0.0.1"
	want.Listen.Port = 9999
	want.Log.Level = "warn"
	want.Log.Timestamp = false
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("ApplyEnv (-want, +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"Port", func(c *config.Config) { c.Listen.Port = 0 }},
		{"BigPort", func(c *config.Config) { c.Listen.Port = 70000 }},
		{"Timeout", func(c *config.Config) { c.Listen.ReplyTimeout = -time.Second }},
		{"Drain", func(c *config.Config) { c.Listen.DrainTimeout = -time.Second }},
		{"Rate", func(c *config.Config) { c.Listen.AcceptRate = -1 }},
		{"KeyPair", func(c *config.Config) { c.TLS.CertFile = "cert.pem" }},
		{"QUIC", func(c *config.Config) { c.QUIC.MaxIncomingStreams = -1 }},
		{"Level", func(c *config.Config) { c.Log.Level = "loud" }},
	}
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("Validate default: unexpected error: %v", err)
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate: got nil, want error for %+v", cfg)
			} else {
				t.Logf("Error OK: %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		return path
	}
	t.Setenv(config.EnvPort, "5555")

	cfg, err := config.Load(write("test.toml", testTOML))
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	want := wantParsed()
	want.Listen.Port = 5555
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load (-want, +got):\n%s", diff)
	}

	if _, err := config.Load(write("test.ini", testTOML)); err == nil {
		t.Error("Load .ini: got nil, want error")
	}
	if _, err := config.Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load missing: got nil, want error")
	}
	if _, err := config.Load(write("bad.yaml", "log:\n  level: loud\n")); err == nil {
		t.Error("Load invalid: got nil, want error")
	}
}

func TestTLS(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.TLS.CAFile = filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(cfg.TLS.CAFile, []byte("not a certificate"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := cfg.Transport(); err == nil {
		t.Error("Transport: got nil, want error for bad CA file")
	}

	cfg.TLS = config.TLS{CertFile: filepath.Join(dir, "no.pem"), KeyFile: filepath.Join(dir, "no.key")}
	if _, err := cfg.Transport(); err == nil {
		t.Error("Transport: got nil, want error for missing key pair")
	}

	cfg.TLS = config.TLS{Insecure: true}
	cfg.QUIC.IdleTimeout = 10 * time.Second
	opts, err := cfg.Options(nil)
	if err != nil {
		t.Fatalf("Options: unexpected error: %v", err)
	}
	if _, ok := opts.Transport.(*transport.QUIC); !ok {
		t.Errorf("Options transport: got %T, want *transport.QUIC", opts.Transport)
	}
	if opts.ReplyTimeout != cfg.Listen.ReplyTimeout {
		t.Errorf("Options reply timeout: got %v, want %v", opts.ReplyTimeout, cfg.Listen.ReplyTimeout)
	}
	if opts.DrainTimeout != cfg.Listen.DrainTimeout {
		t.Errorf("Options drain timeout: got %v, want %v", opts.DrainTimeout, cfg.Listen.DrainTimeout)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := config.Log{Level: "warn", NoColor: true}.Logger(&buf, "test")
	log.Info().Msg("hidden")
	log.Warn().Str("k", "v").Msg("shown")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Errorf("Logger: info message logged at warn level: %q", got)
	}
	if !strings.Contains(got, "shown") || !strings.Contains(got, "k=v") {
		t.Errorf("Logger: got %q, want warning with field", got)
	}
}
