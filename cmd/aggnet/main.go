// Copyright 2024 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build unix

// Command aggnet bridges a local Ethernet device to a remote peer over TCP.
//
//	aggnet listen -address :7000
//	aggnet connect -address peer.example:7000 -device tap -name aggnet0
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/aggnet/aggnet/bridge"
	"github.com/aggnet/aggnet/transport"
	"github.com/aggnet/aggnet/transport/socks5"
	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

const (
	subcommandConnect = "connect"
	subcommandListen  = "listen"
	subcommandHelp    = "help"
)

func usage(w io.Writer) {
	fmt.Fprintf(w, "Bridge a local Ethernet device to a remote peer\nUsage: %s connect | listen [flags...]\n", path.Base(os.Args[0]))
	fmt.Fprintf(w, "Run '%s <command> -help' for the flags of a command.\n", path.Base(os.Args[0]))
}

// parseArgs builds the configuration of a subcommand from its flags and the optional config file they name. Flags
// that are set explicitly override the file.
func parseArgs(subcommand string, args []string, output io.Writer) (*Config, error) {
	flagset := flag.NewFlagSet(subcommand, flag.ContinueOnError)
	flagset.SetOutput(output)
	configFlag := flagset.String("config", "", "YAML config file")
	addressFlag := flagset.String("address", "", "Address to connect to or to listen on, as host:port")
	deviceFlag := flagset.String("device", deviceTypeCharDev, "Device type: chardev or tap")
	pathFlag := flagset.String("path", "", "Device node of a chardev device")
	nameFlag := flagset.String("name", "", "Interface name of a tap device")
	mtuFlag := flagset.Int("mtu", 0, "Device MTU")
	byteOrderFlag := flagset.String("byte-order", "native", "Byte order of the frame length prefix: native, big or little")
	var proxyFlag *string
	if subcommand == subcommandConnect {
		proxyFlag = flagset.String("proxy", "", "Address of a SOCKS5 proxy to connect through")
	}
	metricsFlag := flagset.String("metrics", "", "Address to serve Prometheus metrics on, as host:port")
	verboseFlag := flagset.Bool("v", false, "Enable debug output")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage of %s %s:\n", path.Base(os.Args[0]), subcommand)
		flagset.PrintDefaults()
	}
	if err := flagset.Parse(args); err != nil {
		return nil, err
	}
	if flagset.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", flagset.Args())
	}

	cfg := defaultConfig()
	if *configFlag != "" {
		if err := loadConfigFile(*configFlag, cfg); err != nil {
			return nil, err
		}
	}
	flagset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "address":
			cfg.Address = *addressFlag
		case "device":
			cfg.Device.Type = *deviceFlag
		case "path":
			cfg.Device.Path = *pathFlag
		case "name":
			cfg.Device.Name = *nameFlag
		case "mtu":
			cfg.Device.MTU = *mtuFlag
		case "byte-order":
			cfg.Wire.ByteOrder = *byteOrderFlag
		case "proxy":
			if cfg.Proxy == nil {
				cfg.Proxy = &ProxyConfig{}
			}
			cfg.Proxy.Address = *proxyFlag
		case "metrics":
			cfg.Metrics = *metricsFlag
		case "v":
			cfg.Verbose = *verboseFlag
		}
	})
	if subcommand == subcommandListen {
		cfg.Proxy = nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(
		os.Stderr,
		&tint.Options{NoColor: !term.IsTerminal(int(os.Stderr.Fd())), Level: logLevel},
	)))
}

func runConnect(ctx context.Context, cfg *Config) error {
	dialer, err := cfg.dialer()
	if err != nil {
		return err
	}
	metrics, err := startMetrics(ctx, cfg.Metrics)
	if err != nil {
		return err
	}
	if cfg.Proxy != nil {
		ctx = socks5.WithSOCKS5ClientTrace(ctx, &socks5.SOCKS5ClientTrace{
			RequestDone: func(network string, bindAddr string, err error) {
				slog.Debug("SOCKS5 request done", "proxy", cfg.Proxy.Address, "bind", bindAddr, "error", err)
			},
		})
	}
	initiator := &bridge.Initiator{
		Dialer:         dialer,
		Address:        cfg.Address,
		OpenDevice:     cfg.deviceOpener(),
		SessionOptions: cfg.sessionOptions(),
		Logger:         slog.Default(),
		Metrics:        metrics,
	}
	return initiator.Run(ctx)
}

func runListen(ctx context.Context, cfg *Config) error {
	metrics, err := startMetrics(ctx, cfg.Metrics)
	if err != nil {
		return err
	}
	ln, err := transport.ListenTCP(ctx, cfg.Address)
	if err != nil {
		return fmt.Errorf("could not listen on address %v: %w", cfg.Address, err)
	}
	listener := &bridge.Listener{
		OpenDevice:     cfg.deviceOpener(),
		SessionOptions: cfg.sessionOptions(),
		Logger:         slog.Default(),
		Metrics:        metrics,
	}
	return listener.Serve(ctx, ln)
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	subcommand := os.Args[1]
	var run func(context.Context, *Config) error
	switch subcommand {
	case subcommandConnect:
		run = runConnect
	case subcommandListen:
		run = runListen
	case subcommandHelp, "-h", "-help", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(2)
	}

	cfg, err := parseArgs(subcommand, os.Args[2:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	setupLogging(cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = run(ctx, cfg)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Tunnel failed", "error", err)
		stop()
		os.Exit(1)
	}
}
