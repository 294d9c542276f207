// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package config loads settings for quicr servers and clients from TOML or
// YAML files and the environment.
//
// A file may contain any subset of the settings; the rest keep their default
// values. Environment variables override settings from the file:
//
//	QUICR_ADDRESS        listen.address
//	QUICR_PORT           listen.port
//	QUICR_LOG_LEVEL      log.level
//	QUICR_LOG_TIMESTAMP  log.timestamp
//	QUICR_LOG_NOCOLOR    log.nocolor
package config

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/quicr"
	"github.com/creachadair/quicr/message"
	"github.com/creachadair/quicr/transport"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvAddress      = "QUICR_ADDRESS"
	EnvPort         = "QUICR_PORT"
	EnvLogLevel     = "QUICR_LOG_LEVEL"
	EnvLogTimestamp = "QUICR_LOG_TIMESTAMP"
	EnvLogNoColor   = "QUICR_LOG_NOCOLOR"
)

// Config is the complete configuration of a quicr endpoint.
type Config struct {
	Listen Listen `toml:"listen" yaml:"listen"`
	TLS    TLS    `toml:"tls" yaml:"tls"`
	QUIC   QUIC   `toml:"quic" yaml:"quic"`
	Log    Log    `toml:"log" yaml:"log"`
}

// Listen holds the settings of a server endpoint.
type Listen struct {
	Address        string        `toml:"address" yaml:"address"`
	Port           int           `toml:"port" yaml:"port"`
	MaxMessageSize int           `toml:"max_message_size" yaml:"max_message_size"`
	ReplyTimeout   time.Duration `toml:"reply_timeout" yaml:"reply_timeout"`
	DrainTimeout   time.Duration `toml:"drain_timeout" yaml:"drain_timeout"`
	AcceptRate     float64       `toml:"accept_rate" yaml:"accept_rate"`
	AcceptBurst    int           `toml:"accept_burst" yaml:"accept_burst"`
}

// TLS holds certificate settings. Without a certificate, a server generates
// a self-signed one. Without a CA file, a client does not verify the server
// unless Insecure is false, in which case the system roots are used.
type TLS struct {
	CertFile string `toml:"cert_file" yaml:"cert_file"`
	KeyFile  string `toml:"key_file" yaml:"key_file"`
	CAFile   string `toml:"ca_file" yaml:"ca_file"`
	Insecure bool   `toml:"insecure" yaml:"insecure"`
}

// QUIC holds transport tuning settings. Zero values select the quic-go
// defaults, except that a zero KeepAlive selects transport.DefaultKeepAlive.
type QUIC struct {
	IdleTimeout        time.Duration `toml:"idle_timeout" yaml:"idle_timeout"`
	KeepAlive          time.Duration `toml:"keep_alive" yaml:"keep_alive"`
	MaxIncomingStreams int64         `toml:"max_incoming_streams" yaml:"max_incoming_streams"`
}

// Log holds logging settings.
type Log struct {
	Level     string `toml:"level" yaml:"level"`
	Timestamp bool   `toml:"timestamp" yaml:"timestamp"`
	NoColor   bool   `toml:"nocolor" yaml:"nocolor"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Listen: Listen{
			Address:        quicr.DefaultAddress,
			Port:           2345,
			MaxMessageSize: message.DefaultLimit,
			ReplyTimeout:   quicr.DefaultReplyTimeout,
			DrainTimeout:   quicr.DefaultDrainTimeout,
		},
		TLS: TLS{Insecure: true},
		Log: Log{Level: "info", Timestamp: true},
	}
}

// Load reads the configuration file at path, whose format is chosen by its
// extension (.toml, .yaml, or .yml), applies environment overrides, and
// validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	ApplyEnv(&cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format ("toml", "yaml", or "yml") over the
// default configuration. Unknown keys are reported as errors.
func Parse(data []byte, format string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(format) {
	case "toml":
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, err
		}
		if u := meta.Undecoded(); len(u) != 0 {
			return Config{}, fmt.Errorf("unknown keys: %v", u)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("unknown config format %q", format)
	}
	return cfg, nil
}

// ApplyEnv overrides settings of cfg from environment variables, read by
// getenv. Empty and malformed values are ignored.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAddress)); v != "" {
		cfg.Listen.Address = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(getenv(EnvPort))); err == nil {
		cfg.Listen.Port = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(getenv(EnvLogTimestamp))); err == nil {
		cfg.Log.Timestamp = v
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(getenv(EnvLogNoColor))); err == nil {
		cfg.Log.NoColor = v
	}
}

// Validate reports an error if cfg is not usable.
func (c Config) Validate() error {
	var errs []error
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Listen.ReplyTimeout < 0 {
		errs = append(errs, fmt.Errorf("listen.reply_timeout %v is negative", c.Listen.ReplyTimeout))
	}
	if c.Listen.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("listen.drain_timeout %v is negative", c.Listen.DrainTimeout))
	}
	if c.Listen.AcceptRate < 0 {
		errs = append(errs, fmt.Errorf("listen.accept_rate %v is negative", c.Listen.AcceptRate))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	if c.QUIC.IdleTimeout < 0 || c.QUIC.KeepAlive < 0 || c.QUIC.MaxIncomingStreams < 0 {
		errs = append(errs, errors.New("quic settings must not be negative"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Transport constructs a QUIC transport from the TLS and QUIC settings of c.
func (c Config) Transport() (*transport.QUIC, error) {
	var qc transport.QUICConfig
	if c.TLS.CertFile != "" {
		stls, err := transport.LoadServerTLS(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		qc.ServerTLS = stls
	}
	if c.TLS.CAFile != "" {
		pem, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %q", c.TLS.CAFile)
		}
		qc.ClientTLS = transport.ClientTLS(roots)
	} else if !c.TLS.Insecure {
		qc.ClientTLS = &tls.Config{MinVersion: tls.VersionTLS13}
	}
	if c.QUIC != (QUIC{}) {
		qc.QUIC = &quic.Config{
			MaxIdleTimeout:     c.QUIC.IdleTimeout,
			KeepAlivePeriod:    c.QUIC.KeepAlive,
			MaxIncomingStreams: c.QUIC.MaxIncomingStreams,
		}
	}
	return transport.NewQUIC(&qc), nil
}

// Options constructs server and client options from c, using the transport
// settings of c and the given logger.
func (c Config) Options(log *zerolog.Logger) (*quicr.Options, error) {
	tr, err := c.Transport()
	if err != nil {
		return nil, err
	}
	return &quicr.Options{
		Transport:      tr,
		Logger:         log,
		MaxMessageSize: c.Listen.MaxMessageSize,
		ReplyTimeout:   c.Listen.ReplyTimeout,
		DrainTimeout:   c.Listen.DrainTimeout,
		AcceptRate:     c.Listen.AcceptRate,
		AcceptBurst:    c.Listen.AcceptBurst,
	}, nil
}

// Logger constructs a console logger writing to w with the settings of c.
// An unrecognized level selects info.
func (c Log) Logger(w io.Writer, app string) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    c.NoColor,
	}
	if !c.Timestamp {
		out.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("app", app).Logger()
}
