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

//go:build linux

package tapdev

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/aggnet/aggnet/network"
	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
)

// Device is a TAP interface.
type Device struct {
	*water.Interface
	link netlink.Link
	mtu  int
}

var _ network.FrameDevice = (*Device)(nil)

// Open creates the TAP interface described by config, configures its link and brings it up.
func Open(config Config) (d *Device, err error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	tap, err := water.New(water.Config{
		DeviceType: water.TAP,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name:    config.Name,
			Persist: config.Persist,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create TAP device: %w", err)
	}

	defer func() {
		if err != nil {
			tap.Close()
		}
	}()

	if _, ok := tap.ReadWriteCloser.(syscall.Conn); !ok {
		return nil, errors.New("TAP device does not expose its file descriptor")
	}
	link, err := netlink.LinkByName(tap.Name())
	if err != nil {
		return nil, fmt.Errorf("newly created TAP device '%s' not found: %w", tap.Name(), err)
	}

	d = &Device{Interface: tap, link: link, mtu: config.mtu()}
	if err := d.configure(&config); err != nil {
		return nil, fmt.Errorf("failed to configure TAP device: %w", err)
	}
	if err := netlink.LinkSetUp(d.link); err != nil {
		return nil, fmt.Errorf("failed to bring TAP device '%s' up: %w", d.Name(), err)
	}
	return d, nil
}

func (d *Device) configure(config *Config) error {
	if err := netlink.LinkSetMTU(d.link, d.mtu); err != nil {
		return fmt.Errorf("failed to set MTU %d on '%s': %w", d.mtu, d.Name(), err)
	}
	if config.HardwareAddr != nil {
		if err := netlink.LinkSetHardwareAddr(d.link, config.HardwareAddr); err != nil {
			return fmt.Errorf("failed to set hardware address %v on '%s': %w", config.HardwareAddr, d.Name(), err)
		}
	}
	if config.NoARP {
		if err := netlink.LinkSetARPOff(d.link); err != nil {
			return fmt.Errorf("failed to disable ARP on '%s': %w", d.Name(), err)
		}
	}
	for _, cidr := range config.Addrs {
		addr, err := netlink.ParseAddr(cidr)
		if err != nil {
			return fmt.Errorf("address '%s' is not valid: %w", cidr, err)
		}
		if err := netlink.AddrAdd(d.link, addr); err != nil {
			return fmt.Errorf("failed to add address '%s' to '%s': %w", cidr, d.Name(), err)
		}
	}
	return nil
}

// Read implements [network.FrameDevice]. Each call returns one frame.
func (d *Device) Read(p []byte) (int, error) {
	n, err := d.Interface.Read(p)
	if errors.Is(err, os.ErrClosed) {
		return n, network.ErrClosed
	}
	return n, err
}

// Write implements [network.FrameDevice]. p must hold exactly one frame.
func (d *Device) Write(p []byte) (int, error) {
	if len(p) > network.MaxFrameSize(d.mtu) {
		return 0, network.ErrMsgSize
	}
	n, err := d.Interface.Write(p)
	if errors.Is(err, os.ErrClosed) {
		return n, network.ErrClosed
	}
	return n, err
}

// SyscallConn implements [network.FrameDevice].
func (d *Device) SyscallConn() (syscall.RawConn, error) {
	return d.Interface.ReadWriteCloser.(syscall.Conn).SyscallConn()
}

// MTU implements [network.FrameDevice].
func (d *Device) MTU() int {
	return d.mtu
}

// LengthPrefixed implements [network.FrameDevice]. A TAP interface delimits frames by read and write boundaries.
func (d *Device) LengthPrefixed() bool {
	return false
}
