// Copyright 2023 The Outline Authors
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

package network

import (
	"io"
	"syscall"
)

// FrameDevice is a local link-layer device that reads and writes Ethernet frames. It extends [io.ReadWriteCloser] with
// access to the underlying descriptor, so that a relay can wait for readiness and perform non-blocking I/O on it.
//
// Some examples of FrameDevices are a TAP interface or the aggnet character device.
type FrameDevice interface {
	// Close closes this device. Any future Read will return io.EOF and Write will return ErrClosed.
	Close() error

	// Read reads from this device into p. For a device that is not LengthPrefixed, one Read returns exactly one
	// frame, and the excess bytes of a frame larger than len(p) are discarded. For a LengthPrefixed device, Read
	// returns a portion of the wire frame stream that must be decoded with the frame package.
	Read(p []byte) (int, error)

	// Write writes to this device. For a device that is not LengthPrefixed, p must hold exactly one frame no larger
	// than MTU plus the Ethernet header, otherwise Write returns (0, ErrMsgSize). For a LengthPrefixed device, p is
	// a portion of the wire frame stream and a short write is possible.
	Write(p []byte) (int, error)

	// SyscallConn gives access to the underlying descriptor. Implementations must return a descriptor that may be
	// switched to non-blocking mode.
	SyscallConn() (syscall.RawConn, error)

	// Name returns the interface or device node name, for logging.
	Name() string

	// MTU returns the Maximum Transmission Unit of the link, which bounds the payload of a single frame.
	MTU() int

	// LengthPrefixed reports whether frames exchanged with the device are wrapped in the wire frame format, as the
	// aggnet character device does, instead of being delimited by read and write boundaries, as a TAP device does.
	LengthPrefixed() bool
}

var (
	_ io.ReadWriteCloser = (FrameDevice)(nil)
	_ syscall.Conn       = (FrameDevice)(nil)
)

// EthernetHeaderLen is the size of an untagged Ethernet header: destination address, source address and EtherType.
const EthernetHeaderLen = 14

// MaxFrameSize returns the largest Ethernet frame, header included, that a device with the given MTU can carry.
func MaxFrameSize(mtu int) int {
	// Allow for one 802.1Q tag.
	return mtu + EthernetHeaderLen + 4
}
