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
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/aggnet/aggnet/bridge"
	"github.com/aggnet/aggnet/frame"
	"github.com/aggnet/aggnet/network"
	"github.com/aggnet/aggnet/network/chardev"
	"github.com/aggnet/aggnet/network/tapdev"
	"github.com/aggnet/aggnet/relay"
	"github.com/aggnet/aggnet/transport"
	"github.com/aggnet/aggnet/transport/socks5"
	"github.com/goccy/go-yaml"
)

const (
	deviceTypeCharDev = "chardev"
	deviceTypeTAP     = "tap"
)

// Config is the configuration of either role. It is read from an optional YAML file and then overridden by flags.
type Config struct {
	// Address to connect to, or to listen on, as host:port.
	Address string       `yaml:"address"`
	Device  DeviceConfig `yaml:"device"`
	Wire    WireConfig   `yaml:"wire"`
	Filter  FilterConfig `yaml:"filter"`
	Relay   RelayConfig  `yaml:"relay"`
	// Proxy is only used when connecting.
	Proxy *ProxyConfig `yaml:"proxy,omitempty"`
	// Metrics is the host:port of the Prometheus endpoint. Empty disables it.
	Metrics string `yaml:"metrics,omitempty"`
	Verbose bool   `yaml:"verbose"`
}

type DeviceConfig struct {
	// Type is "chardev" or "tap".
	Type string `yaml:"type"`
	// Path of the character device node.
	Path string `yaml:"path,omitempty"`
	// Name of the TAP interface.
	Name         string   `yaml:"name,omitempty"`
	MTU          int      `yaml:"mtu,omitempty"`
	HardwareAddr string   `yaml:"hwaddr,omitempty"`
	Addrs        []string `yaml:"addrs,omitempty"`
	NoARP        bool     `yaml:"no_arp,omitempty"`
}

type WireConfig struct {
	// ByteOrder of the length prefix: "native", "big" or "little". Both peers must agree.
	ByteOrder    string `yaml:"byte_order"`
	MaxFrameSize int    `yaml:"max_frame_size"`
}

type FilterConfig struct {
	// Disable relays every frame, including broadcast and router multicast.
	Disable bool `yaml:"disable,omitempty"`
	// Block lists destination addresses to drop in addition to the default set.
	Block []string `yaml:"block,omitempty"`
}

type RelayConfig struct {
	HighWaterMark int `yaml:"high_water_mark"`
	// FlushTimeout is a duration such as "2s".
	FlushTimeout string `yaml:"flush_timeout"`
}

type ProxyConfig struct {
	// Address of a SOCKS5 proxy to connect through.
	Address  string `yaml:"address"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{Type: deviceTypeCharDev, Path: chardev.DefaultPath, Name: "aggnet0"},
		Wire:   WireConfig{ByteOrder: "native", MaxFrameSize: frame.DefaultMaxSize},
		Relay: RelayConfig{
			HighWaterMark: relay.DefaultHighWaterMark,
			FlushTimeout:  relay.DefaultFlushTimeout.String(),
		},
	}
}

// loadConfigFile overlays the YAML file at path onto cfg. Unknown keys are rejected.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField()); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		errs = append(errs, fmt.Errorf("invalid address %q: %w", c.Address, err))
	}
	switch c.Device.Type {
	case deviceTypeCharDev:
		if c.Device.Path == "" {
			errs = append(errs, errors.New("device path is required for a chardev device"))
		}
	case deviceTypeTAP:
		if c.Device.Name == "" {
			errs = append(errs, errors.New("device name is required for a tap device"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown device type %q", c.Device.Type))
	}
	if c.Device.MTU < 0 {
		errs = append(errs, errors.New("device MTU must not be negative"))
	}
	if _, err := c.hardwareAddr(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.codec(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.addressFilter(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.flushTimeout(); err != nil {
		errs = append(errs, err)
	}
	if c.Proxy != nil {
		if _, _, err := net.SplitHostPort(c.Proxy.Address); err != nil {
			errs = append(errs, fmt.Errorf("invalid proxy address %q: %w", c.Proxy.Address, err))
		}
		if (c.Proxy.Username == "") != (c.Proxy.Password == "") {
			errs = append(errs, errors.New("proxy username and password must be set together"))
		}
	}
	if c.Metrics != "" {
		if _, _, err := net.SplitHostPort(c.Metrics); err != nil {
			errs = append(errs, fmt.Errorf("invalid metrics address %q: %w", c.Metrics, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) hardwareAddr() (net.HardwareAddr, error) {
	if c.Device.HardwareAddr == "" {
		return nil, nil
	}
	mac, err := net.ParseMAC(c.Device.HardwareAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid hardware address: %w", err)
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("hardware address %v is not an Ethernet address", mac)
	}
	return mac, nil
}

func (c *Config) codec() (frame.Codec, error) {
	var order binary.ByteOrder
	switch c.Wire.ByteOrder {
	case "", "native":
		order = binary.NativeEndian
	case "big":
		order = binary.BigEndian
	case "little":
		order = binary.LittleEndian
	default:
		return frame.Codec{}, fmt.Errorf("unknown byte order %q", c.Wire.ByteOrder)
	}
	if c.Wire.MaxFrameSize <= 0 || uint64(c.Wire.MaxFrameSize) > 1<<32-1 {
		return frame.Codec{}, fmt.Errorf("max frame size %d is out of range", c.Wire.MaxFrameSize)
	}
	return frame.Codec{ByteOrder: order, MaxSize: c.Wire.MaxFrameSize}, nil
}

func (c *Config) addressFilter() (*network.AddressFilter, error) {
	if c.Filter.Disable {
		return nil, nil
	}
	addrs := network.DefaultAddressFilter().Blocked()
	for _, s := range c.Filter.Block {
		mac, err := net.ParseMAC(s)
		if err != nil {
			return nil, fmt.Errorf("invalid filter address: %w", err)
		}
		addrs = append(addrs, mac)
	}
	return network.NewAddressFilter(addrs...)
}

func (c *Config) flushTimeout() (time.Duration, error) {
	if c.Relay.FlushTimeout == "" {
		return relay.DefaultFlushTimeout, nil
	}
	d, err := time.ParseDuration(c.Relay.FlushTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid flush timeout: %w", err)
	}
	if d < 0 {
		return 0, errors.New("flush timeout must not be negative")
	}
	return d, nil
}

// sessionOptions must only be called on a valid Config.
func (c *Config) sessionOptions() []func(*relay.Session) error {
	codec, _ := c.codec()
	filter, _ := c.addressFilter()
	flush, _ := c.flushTimeout()
	return []func(*relay.Session) error{
		relay.WithCodec(codec),
		relay.WithAddressFilter(filter),
		relay.WithHighWaterMark(c.Relay.HighWaterMark),
		relay.WithFlushTimeout(flush),
	}
}

// deviceOpener must only be called on a valid Config.
func (c *Config) deviceOpener() bridge.DeviceOpener {
	switch c.Device.Type {
	case deviceTypeTAP:
		mac, _ := c.hardwareAddr()
		tapConfig := tapdev.Config{
			Name:         c.Device.Name,
			MTU:          c.Device.MTU,
			HardwareAddr: mac,
			Addrs:        c.Device.Addrs,
			NoARP:        c.Device.NoARP,
		}
		return func(ctx context.Context) (network.FrameDevice, error) {
			dev, err := tapdev.Open(tapConfig)
			if err != nil {
				return nil, err
			}
			return dev, nil
		}
	default:
		var options []func(*chardev.Device) error
		if c.Device.MTU > 0 {
			options = append(options, chardev.WithMTU(c.Device.MTU))
		}
		path := c.Device.Path
		return func(ctx context.Context) (network.FrameDevice, error) {
			dev, err := chardev.Open(path, options...)
			if err != nil {
				return nil, err
			}
			return dev, nil
		}
	}
}

// dialer returns the dialer for the connecting role, going through the SOCKS5 proxy if one is configured.
func (c *Config) dialer() (transport.StreamDialer, error) {
	if c.Proxy == nil {
		return &transport.TCPDialer{}, nil
	}
	dialer, err := socks5.NewStreamDialer(&transport.TCPEndpoint{Address: c.Proxy.Address})
	if err != nil {
		return nil, err
	}
	if c.Proxy.Username != "" {
		if err := dialer.SetCredentials([]byte(c.Proxy.Username), []byte(c.Proxy.Password)); err != nil {
			return nil, fmt.Errorf("invalid proxy credentials: %w", err)
		}
	}
	return dialer, nil
}
