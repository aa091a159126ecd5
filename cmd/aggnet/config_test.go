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

package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aggnet/aggnet/frame"
	"github.com/aggnet/aggnet/network"
	"github.com/aggnet/aggnet/network/chardev"
	"github.com/aggnet/aggnet/relay"
	"github.com/aggnet/aggnet/transport"
	"github.com/aggnet/aggnet/transport/socks5"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "aggnet.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := parseArgs(subcommandListen, []string{"-address", ":7000"}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Address)
	require.Equal(t, deviceTypeCharDev, cfg.Device.Type)
	require.Equal(t, chardev.DefaultPath, cfg.Device.Path)
	require.False(t, cfg.Verbose)

	codec, err := cfg.codec()
	require.NoError(t, err)
	require.Equal(t, frame.Codec{ByteOrder: binary.NativeEndian, MaxSize: frame.DefaultMaxSize}, codec)
	flush, err := cfg.flushTimeout()
	require.NoError(t, err)
	require.Equal(t, relay.DefaultFlushTimeout, flush)
}

func TestParseArgsRequiresAddress(t *testing.T) {
	_, err := parseArgs(subcommandConnect, nil, io.Discard)
	require.Error(t, err)
}

func TestParseArgsHelp(t *testing.T) {
	_, err := parseArgs(subcommandConnect, []string{"-help"}, io.Discard)
	require.ErrorIs(t, err, flag.ErrHelp)
}

func TestParseArgsRejectsPositional(t *testing.T) {
	_, err := parseArgs(subcommandConnect, []string{"-address", "peer:7000", "extra"}, io.Discard)
	require.Error(t, err)
}

func TestParseArgsFileAndFlags(t *testing.T) {
	path := writeConfig(t, `
address: peer.example:7000
device:
  type: tap
  name: aggnet1
  mtu: 1400
  hwaddr: "02:00:00:00:00:01"
  addrs: [10.0.0.1/24]
  no_arp: true
wire:
  byte_order: big
  max_frame_size: 9018
filter:
  block: ["01:80:c2:00:00:00"]
relay:
  high_water_mark: 65536
  flush_timeout: 500ms
proxy:
  address: 127.0.0.1:1080
  username: user
  password: secret
verbose: true
`)
	cfg, err := parseArgs(subcommandConnect, []string{"-config", path, "-address", "other.example:7001", "-mtu", "1500"}, io.Discard)
	require.NoError(t, err)

	// Flags win over the file.
	require.Equal(t, "other.example:7001", cfg.Address)
	require.Equal(t, 1500, cfg.Device.MTU)
	// The rest comes from the file.
	require.Equal(t, deviceTypeTAP, cfg.Device.Type)
	require.Equal(t, "aggnet1", cfg.Device.Name)
	require.Equal(t, []string{"10.0.0.1/24"}, cfg.Device.Addrs)
	require.True(t, cfg.Device.NoARP)
	require.True(t, cfg.Verbose)
	require.Equal(t, 65536, cfg.Relay.HighWaterMark)

	mac, err := cfg.hardwareAddr()
	require.NoError(t, err)
	require.Equal(t, net.HardwareAddr{0x02, 0, 0, 0, 0, 1}, mac)

	codec, err := cfg.codec()
	require.NoError(t, err)
	require.Equal(t, frame.Codec{ByteOrder: binary.BigEndian, MaxSize: 9018}, codec)

	flush, err := cfg.flushTimeout()
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, flush)

	filter, err := cfg.addressFilter()
	require.NoError(t, err)
	require.Len(t, filter.Blocked(), 4)
	require.False(t, filter.Relayable([]byte{0x01, 0x80, 0xc2, 0, 0, 0, 1, 2, 3, 4, 5, 6}))
	require.False(t, filter.Relayable(append(network.BroadcastAddr, make([]byte, 8)...)))

	dialer, err := cfg.dialer()
	require.NoError(t, err)
	require.IsType(t, &socks5.StreamDialer{}, dialer)
	require.Len(t, cfg.sessionOptions(), 4)
}

func TestParseArgsProxyFlag(t *testing.T) {
	cfg, err := parseArgs(subcommandConnect, []string{"-address", "peer:7000", "-proxy", "127.0.0.1:1080"}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, &ProxyConfig{Address: "127.0.0.1:1080"}, cfg.Proxy)

	_, err = parseArgs(subcommandListen, []string{"-address", ":7000", "-proxy", "127.0.0.1:1080"}, io.Discard)
	require.Error(t, err, "listen has no -proxy flag")
}

func TestListenIgnoresProxyInFile(t *testing.T) {
	path := writeConfig(t, "address: ':7000'\nproxy:\n  address: 127.0.0.1:1080\n")
	cfg, err := parseArgs(subcommandListen, []string{"-config", path}, io.Discard)
	require.NoError(t, err)
	require.Nil(t, cfg.Proxy)
	dialer, err := cfg.dialer()
	require.NoError(t, err)
	require.IsType(t, &transport.TCPDialer{}, dialer)
}

func TestLoadConfigFileErrors(t *testing.T) {
	cfg := defaultConfig()
	err := loadConfigFile(filepath.Join(t.TempDir(), "missing.yml"), cfg)
	require.ErrorIs(t, err, os.ErrNotExist)

	err = loadConfigFile(writeConfig(t, "address: peer:7000\nunknown_key: 1\n"), cfg)
	require.Error(t, err)

	err = loadConfigFile(writeConfig(t, "address: [not, a, string\n"), cfg)
	require.Error(t, err)
}

func TestFilterDisabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.Filter.Disable = true
	filter, err := cfg.addressFilter()
	require.NoError(t, err)
	require.Nil(t, filter)
	require.True(t, filter.Relayable(append(network.BroadcastAddr, make([]byte, 8)...)))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad address", func(c *Config) { c.Address = "no-port" }},
		{"unknown device", func(c *Config) { c.Device.Type = "tun" }},
		{"chardev without path", func(c *Config) { c.Device.Path = "" }},
		{"tap without name", func(c *Config) { c.Device.Type = deviceTypeTAP; c.Device.Name = "" }},
		{"negative MTU", func(c *Config) { c.Device.MTU = -1 }},
		{"bad hwaddr", func(c *Config) { c.Device.HardwareAddr = "zz:zz" }},
		{"long hwaddr", func(c *Config) { c.Device.HardwareAddr = "00:00:00:00:fe:80:00:00" }},
		{"bad byte order", func(c *Config) { c.Wire.ByteOrder = "middle" }},
		{"zero max frame size", func(c *Config) { c.Wire.MaxFrameSize = 0 }},
		{"bad filter address", func(c *Config) { c.Filter.Block = []string{"nope"} }},
		{"bad flush timeout", func(c *Config) { c.Relay.FlushTimeout = "soon" }},
		{"negative flush timeout", func(c *Config) { c.Relay.FlushTimeout = "-1s" }},
		{"bad proxy", func(c *Config) { c.Proxy = &ProxyConfig{Address: "proxy"} }},
		{"username without password", func(c *Config) {
			c.Proxy = &ProxyConfig{Address: "127.0.0.1:1080", Username: "user"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Address = "peer:7000"
			require.NoError(t, cfg.Validate())
			tt.modify(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Device.Type = "tun"
	cfg.Wire.ByteOrder = "middle"
	err := cfg.Validate()
	require.Error(t, err)
	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	// Missing address, device type and byte order.
	require.Len(t, joined.Unwrap(), 3)
}

func TestDeviceOpenerCharDev(t *testing.T) {
	cfg := defaultConfig()
	cfg.Device.Path = filepath.Join(t.TempDir(), "aggnet0")
	_, err := cfg.deviceOpener()(t.Context())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseArgsMetrics(t *testing.T) {
	cfg, err := parseArgs(subcommandListen, []string{"-address", ":7000", "-metrics", "127.0.0.1:9100"}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9100", cfg.Metrics)

	_, err = parseArgs(subcommandListen, []string{"-address", ":7000", "-metrics", "9100"}, io.Discard)
	require.Error(t, err)
}
