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

// Package chardev provides a [network.FrameDevice] backed by the aggnet character device, a kernel driver that exposes
// the frames of a virtual Ethernet interface as a stream of length-prefixed frames.
package chardev

import (
	"errors"
	"fmt"
	"os"

	"github.com/aggnet/aggnet/network"
)

// DefaultPath is the device node created by the aggnet driver for its first interface.
const DefaultPath = "/dev/aggnet0"

// Device is an open aggnet character device.
type Device struct {
	*os.File
	mtu int
}

var _ network.FrameDevice = (*Device)(nil)

// WithMTU sets the MTU reported by the device. The default is 1500.
func WithMTU(mtu int) func(*Device) error {
	return func(d *Device) error {
		if mtu <= 0 {
			return errors.New("MTU must be positive")
		}
		d.mtu = mtu
		return nil
	}
}

// Open opens the character device node at path for reading and writing.
func Open(path string, options ...func(*Device) error) (*Device, error) {
	d := &Device{mtu: 1500}
	for _, opt := range options {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open aggnet device: %w", err)
	}
	d.File = f
	return d, nil
}

// Read implements [network.FrameDevice]. It returns [network.ErrClosed] once the device is closed.
func (d *Device) Read(p []byte) (int, error) {
	n, err := d.File.Read(p)
	return n, mapClosed(err)
}

// Write implements [network.FrameDevice]. It returns [network.ErrClosed] once the device is closed.
func (d *Device) Write(p []byte) (int, error) {
	n, err := d.File.Write(p)
	return n, mapClosed(err)
}

func mapClosed(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return network.ErrClosed
	}
	return err
}

// MTU implements [network.FrameDevice].
func (d *Device) MTU() int {
	return d.mtu
}

// LengthPrefixed implements [network.FrameDevice]. The driver frames its stream with the wire frame format.
func (d *Device) LengthPrefixed() bool {
	return true
}
