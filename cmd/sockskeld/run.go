// Copyright 2026 The Sockskel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"sockskel.dev/sockskel/pkg/hostnet"
	"sockskel.dev/sockskel/pkg/notify"
	"sockskel.dev/sockskel/pkg/skel"
	"sockskel.dev/sockskel/pkg/tschan"
	"sockskel.dev/sockskel/pkg/tschan/sockchan"
	"sockskel.dev/sockskel/pkg/tschan/stubchan"
)

// runCmd implements subcommands.Command for the "run" command, which
// serves foreign socket calls until terminated.
type runCmd struct {
	configPath string
	socket     string
	workers    int
	logLevel   string
	loopback   bool
}

// Name implements subcommands.Command.Name.
func (*runCmd) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*runCmd) Synopsis() string {
	return "serve foreign socket calls from a stub-service transport"
}

// Usage implements subcommands.Command.Usage.
func (*runCmd) Usage() string {
	return `run [flags]
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.configPath, "config", "", "path to a TOML configuration file")
	f.StringVar(&r.socket, "socket", "", "Unix socket path for the stub transport (overrides config)")
	f.IntVar(&r.workers, "workers", 0, "worker and slot count (overrides config)")
	f.StringVar(&r.logLevel, "log-level", "", "log level (overrides config)")
	f.BoolVar(&r.loopback, "loopback", false, "run an in-process stub exchange instead of serving a socket")
}

// Execute implements subcommands.Command.Execute.
func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg, err := loadConfig(r.configPath)
	if err != nil {
		logrus.WithError(err).Error("loading configuration")
		return subcommands.ExitFailure
	}
	if r.socket != "" {
		cfg.Socket = r.socket
	}
	if r.workers > 0 {
		cfg.Workers = r.workers
	}
	if r.logLevel != "" {
		cfg.LogLevel = r.logLevel
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Error("parsing log level")
		return subcommands.ExitUsageError
	}
	logrus.SetLevel(level)

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()

	registry := tschan.NewRegistry()
	waiter := notify.NewWaiter()
	daemon := skel.New(skel.Config{
		ServiceName:  cfg.ServiceName,
		Workers:      cfg.Workers,
		BufferBudget: cfg.BufferBudget,
	}, hostnet.New(), registry, waiter)

	if r.loopback {
		return runLoopback(ctx, cfg, daemon, registry, waiter)
	}
	return runSocket(ctx, cfg, daemon, registry, waiter)
}

// runSocket serves the stub transport on a Unix socket. The first
// connection becomes the secure channel; the daemon runs until the
// context is canceled or the transport dies.
func runSocket(ctx context.Context, cfg config, daemon *skel.Daemon, registry *tschan.Registry, waiter *notify.Waiter) subcommands.ExitStatus {
	_ = os.Remove(cfg.Socket)
	ln, err := net.Listen("unix", cfg.Socket)
	if err != nil {
		logrus.WithError(err).Error("listening on stub socket")
		return subcommands.ExitFailure
	}
	defer ln.Close()
	defer os.Remove(cfg.Socket)
	logrus.WithField("socket", cfg.Socket).Info("waiting for stub transport")

	// Unblock Accept when the context ends.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return subcommands.ExitSuccess
		}
		logrus.WithError(err).Error("accepting stub transport")
		return subcommands.ExitFailure
	}
	ep := sockchan.NewEndpoint(conn, func() {
		waiter.Notify(skel.OpPendingEvent)
	})
	defer ep.Close()
	registry.Register(cfg.ServiceName, ep)

	if err := daemon.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Error("daemon exited")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// runLoopback wires an in-process stub service, pushes one
// socket/close exchange through the full dispatch path, and exits.
// This is a smoke test of the deployment, not a service mode.
func runLoopback(ctx context.Context, cfg config, daemon *skel.Daemon, registry *tschan.Registry, waiter *notify.Waiter) subcommands.ExitStatus {
	stub := stubchan.New(func() {
		waiter.Notify(skel.OpPendingEvent)
	})
	registry.Register(cfg.ServiceName, stub)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	daemonDone := make(chan error, 1)
	go func() {
		daemonDone <- daemon.Run(ctx)
	}()

	select {
	case <-stub.Ready():
	case <-ctx.Done():
		return subcommands.ExitFailure
	}

	open := &stubchan.Call{
		Op:     skel.OpSocket,
		Params: [skel.NumParams]uint32{unix.AF_INET, unix.SOCK_STREAM, 0},
	}
	stub.Submit(open)
	select {
	case <-open.Done():
	case <-ctx.Done():
		return subcommands.ExitFailure
	}
	if open.Result < 0 {
		logrus.WithField("result", open.Result).Error("loopback socket call failed")
		return subcommands.ExitFailure
	}

	cl := &stubchan.Call{
		Op:     skel.OpClose,
		Params: [skel.NumParams]uint32{uint32(open.Result)},
	}
	stub.Submit(cl)
	select {
	case <-cl.Done():
	case <-ctx.Done():
		return subcommands.ExitFailure
	}

	logrus.WithFields(logrus.Fields{
		"fd":    open.Result,
		"close": cl.Result,
	}).Info("loopback exchange complete")
	cancel()
	<-daemonDone
	return subcommands.ExitSuccess
}
