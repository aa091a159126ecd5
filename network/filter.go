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

package network

import (
	"fmt"
	"net"
	"slices"
)

const hardwareAddrLen = 6

// Destination addresses that are dropped by [DefaultAddressFilter].
var (
	// BroadcastAddr is the Ethernet broadcast address.
	BroadcastAddr = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

	// AllRoutersAddr is the Ethernet mapping of the IPv6 all-routers group (ff02::2), the destination of the router
	// solicitations sent by neighbor discovery whenever an interface comes up.
	AllRoutersAddr = net.HardwareAddr{0x33, 0x33, 0x00, 0x00, 0x00, 0x02}

	// MLDv2RoutersAddr is the Ethernet mapping of the MLDv2-capable routers group (ff02::16), the destination of
	// multicast listener reports that announce group membership.
	MLDv2RoutersAddr = net.HardwareAddr{0x33, 0x33, 0x00, 0x00, 0x00, 0x16}
)

// AddressFilter decides whether a frame may be relayed based on its destination address alone. It holds an
// immutable set of blocked 6-byte destination addresses and is safe for concurrent use.
//
// A nil *AddressFilter relays every frame.
type AddressFilter struct {
	blocked map[[hardwareAddrLen]byte]struct{}
}

// NewAddressFilter creates an [AddressFilter] that blocks frames addressed to any of addrs. Every address must be a
// 6-byte Ethernet address, otherwise an error wrapping [ErrInvalidAddr] is returned.
func NewAddressFilter(addrs ...net.HardwareAddr) (*AddressFilter, error) {
	f := &AddressFilter{blocked: make(map[[hardwareAddrLen]byte]struct{}, len(addrs))}
	for _, addr := range addrs {
		if len(addr) != hardwareAddrLen {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddr, addr)
		}
		f.blocked[[hardwareAddrLen]byte(addr)] = struct{}{}
	}
	return f, nil
}

// DefaultAddressFilter returns a filter that blocks the broadcast address and the IPv6 multicast groups targeted by
// router solicitations and MLDv2 reports. Together they make up most of the chatter a freshly configured interface
// emits, none of which is meaningful on the remote link.
func DefaultAddressFilter() *AddressFilter {
	f, _ := NewAddressFilter(BroadcastAddr, AllRoutersAddr, MLDv2RoutersAddr)
	return f
}

// Relayable reports whether frame may be relayed. It returns false only when the first 6 bytes of frame, its
// destination address, exactly match a blocked address. Frames too short to hold a destination address are
// relayable.
func (f *AddressFilter) Relayable(frame []byte) bool {
	if f == nil || len(frame) < hardwareAddrLen {
		return true
	}
	_, blocked := f.blocked[[hardwareAddrLen]byte(frame[:hardwareAddrLen])]
	return !blocked
}

// Blocked returns the blocked addresses in ascending byte order.
func (f *AddressFilter) Blocked() []net.HardwareAddr {
	if f == nil {
		return nil
	}
	keys := make([][hardwareAddrLen]byte, 0, len(f.blocked))
	for k := range f.blocked {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b [hardwareAddrLen]byte) int {
		return slices.Compare(a[:], b[:])
	})
	addrs := make([]net.HardwareAddr, len(keys))
	for i, k := range keys {
		addrs[i] = net.HardwareAddr(k[:])
	}
	return addrs
}
