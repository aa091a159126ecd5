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

/*
Package tapdev provides a [network.FrameDevice] backed by a Linux TAP interface.

Every read from a TAP interface returns one Ethernet frame and every write injects one, so the device is not
length-prefixed. Opening a device requires CAP_NET_ADMIN.
*/
package tapdev

import (
	"errors"
	"net"
)

// DefaultMTU is used when [Config].MTU is zero.
const DefaultMTU = 1500

// Config describes the TAP interface to create and how to configure its link.
type Config struct {
	// Name of the interface, for example "aggnet0". Required.
	Name string
	// MTU of the link. Zero means DefaultMTU.
	MTU int
	// HardwareAddr to assign. Nil keeps the kernel's random address.
	HardwareAddr net.HardwareAddr
	// Addrs are CIDR addresses to add to the link, for example "10.0.0.1/24".
	Addrs []string
	// NoARP disables ARP on the link.
	NoARP bool
	// Persist keeps the interface after the device is closed.
	Persist bool
}

func (c *Config) validate() error {
	if c.Name == "" {
		return errors.New("name is required for TAP device")
	}
	if c.MTU < 0 {
		return errors.New("MTU must not be negative")
	}
	if c.HardwareAddr != nil && len(c.HardwareAddr) != 6 {
		return errors.New("hardware address must be a 6-byte Ethernet address")
	}
	return nil
}

func (c *Config) mtu() int {
	if c.MTU == 0 {
		return DefaultMTU
	}
	return c.MTU
}
