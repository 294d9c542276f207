// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Program quicr is a command-line utility for running and talking to quicr
// servers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/quicr"
	"github.com/creachadair/quicr/config"
	"github.com/creachadair/quicr/handler"
	"github.com/creachadair/quicr/payload"
	"github.com/creachadair/quicr/peers"
	"github.com/creachadair/taskgroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var commonFlags struct {
	Config  string `flag:"config,Configuration file path (.toml or .yaml)"`
	Address string `flag:"address,Host address (overrides config)"`
	Port    int    `flag:"port,Port number (overrides config)"`
}

var listenFlags struct {
	Echo    bool   `flag:"echo,Reply to each message with a copy of it"`
	Metrics string `flag:"metrics,Serve Prometheus metrics at this address"`
}

var sendFlags struct {
	JSON    bool          `flag:"json,Send the message as JSON (it must be valid)"`
	Timeout time.Duration `flag:"timeout,default=10s,Time limit for the exchange"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Help:     "Utilities for running and talking to quicr servers.",
		SetFlags: command.Flags(flax.MustBind, &commonFlags),
		Commands: []*command.C{
			{
				Name:  "listen",
				Usage: "[--echo] [--metrics addr]",
				Help: `Run a server until interrupted.

By default, each message received is logged and answered with an empty
reply. With --echo, each message is answered with a copy of itself.`,
				SetFlags: command.Flags(flax.MustBind, &listenFlags),
				Run:      runListen,
			},
			{
				Name:  "send",
				Usage: "<message>...",
				Help: `Send a message to a server and print the reply.

The arguments are joined with spaces to form the message.`,
				SetFlags: command.Flags(flax.MustBind, &sendFlags),
				Run:      runSend,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// loadConfig returns the configuration selected by the common flags.
func loadConfig() (config.Config, error) {
	var cfg config.Config
	if commonFlags.Config != "" {
		var err error
		cfg, err = config.Load(commonFlags.Config)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		cfg = config.Default()
		config.ApplyEnv(&cfg, os.Getenv)
	}
	if commonFlags.Address != "" {
		cfg.Listen.Address = commonFlags.Address
	}
	if commonFlags.Port != 0 {
		cfg.Listen.Port = commonFlags.Port
	}
	return cfg, cfg.Validate()
}

func runListen(env *command.Env) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cfg.Log.Logger(os.Stderr, "quicr")
	opts, err := cfg.Options(&log)
	if err != nil {
		return err
	}
	srv := quicr.NewServer(opts)

	ctx, cancel := signal.NotifyContext(env.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g := taskgroup.New(nil)
	if listenFlags.Metrics != "" {
		hs := metricsServer(listenFlags.Metrics, srv.Metrics())
		g.Go(func() error {
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return hs.Close()
		})
		log.Info().Str("addr", listenFlags.Metrics).Msg("serving metrics")
	}

	h := handler.Echo
	if !listenFlags.Echo {
		h = logMessage(log)
	}
	serr := peers.Serve(ctx, srv, cfg.Listen.Port, cfg.Listen.Address, h)
	cancel()
	return errors.Join(serr, g.Wait())
}

func logMessage(log zerolog.Logger) func(*quicr.Request) {
	return func(req *quicr.Request) {
		log.Info().
			Stringer("remote", req.Remote).
			Int("bytes", req.Message.Len()).
			Str("message", req.Message.Brief(64)).
			Msg("received")
		req.Reply.Close()
	}
}

func runSend(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing message")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cfg.Log.Logger(os.Stderr, "quicr")
	opts, err := cfg.Options(&log)
	if err != nil {
		return err
	}

	text := strings.Join(env.Args, " ")
	msg := payload.Text(text)
	if sendFlags.JSON {
		if !json.Valid([]byte(text)) {
			return fmt.Errorf("message is not valid JSON: %q", text)
		}
		msg = payload.JSON(json.RawMessage(text))
	}

	ctx, cancel := context.WithTimeout(env.Context(), sendFlags.Timeout)
	defer cancel()

	cli := quicr.NewClient(opts)
	defer cli.Wait()
	rsp, err := peers.Await(ctx, cli.Send(ctx, cfg.Listen.Port, cfg.Listen.Address, msg))
	if err != nil {
		return err
	}
	fmt.Println(rsp.String())
	return nil
}

// metricsServer returns an HTTP server that exports m and the Go runtime
// metrics in Prometheus format at /metrics.
func metricsServer(addr string, m *expvar.Map) *http.Server {
	expvar.Publish("quicr", m)
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewExpvarCollector(map[string]*prometheus.Desc{
			"quicr": prometheus.NewDesc("quicr_endpoint", "Server and client activity counters.", []string{"metric"}, nil),
		}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}
