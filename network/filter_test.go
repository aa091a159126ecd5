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
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

var testSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

func serializeLayers(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, ls...)
	require.NoError(t, err)
	return buf.Bytes()
}

func arpRequestFrame(t *testing.T) []byte {
	eth := &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: BroadcastAddr, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   testSrcMAC,
		SourceProtAddress: net.IPv4(10, 0, 0, 1).To4(),
		DstHwAddress:      make(net.HardwareAddr, 6),
		DstProtAddress:    net.IPv4(10, 0, 0, 2).To4(),
	}
	return serializeLayers(t, eth, arp)
}

func icmpv6Frame(t *testing.T, dstMAC net.HardwareAddr, dstIP net.IP) []byte {
	eth := &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv6}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   255,
		SrcIP:      net.ParseIP("fe80::1"),
		DstIP:      dstIP,
	}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeRouterSolicitation, 0)}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip6))
	return serializeLayers(t, eth, ip6, icmp, &layers.ICMPv6RouterSolicitation{})
}

func unicastFrame(t *testing.T, dstMAC net.HardwareAddr, payload string) []byte {
	eth := &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	return serializeLayers(t, eth, gopacket.Payload(payload))
}

func TestDefaultAddressFilterBlocksControlTraffic(t *testing.T) {
	f := DefaultAddressFilter()
	require.False(t, f.Relayable(arpRequestFrame(t)), "ARP broadcast")
	require.False(t, f.Relayable(icmpv6Frame(t, AllRoutersAddr, net.ParseIP("ff02::2"))), "router solicitation")
	require.False(t, f.Relayable(icmpv6Frame(t, MLDv2RoutersAddr, net.ParseIP("ff02::16"))), "MLDv2 report")
	require.Equal(t, []net.HardwareAddr{AllRoutersAddr, MLDv2RoutersAddr, BroadcastAddr}, f.Blocked())
}

func TestDefaultAddressFilterRelaysEverythingElse(t *testing.T) {
	f := DefaultAddressFilter()
	for _, dst := range []net.HardwareAddr{
		{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		// Other IPv6 multicast groups, such as all-nodes, are relayed.
		{0x33, 0x33, 0x00, 0x00, 0x00, 0x01},
		{0x33, 0x33, 0xff, 0x00, 0x00, 0x02},
		// Differs from broadcast in the last byte only.
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xfe},
		{0x01, 0x00, 0x5e, 0x00, 0x00, 0xfb},
	} {
		require.True(t, f.Relayable(unicastFrame(t, dst, "ping")), "dst=%v", dst)
	}
}

func TestAddressFilterMatchesOnlyFirstSixBytes(t *testing.T) {
	f := DefaultAddressFilter()
	// The broadcast pattern as source address does not block the frame.
	frame := append(net.HardwareAddr{0x02, 0, 0, 0, 0, 2}, BroadcastAddr...)
	require.True(t, f.Relayable(frame))
	require.False(t, f.Relayable(BroadcastAddr))
}

func TestAddressFilterShortFrames(t *testing.T) {
	f := DefaultAddressFilter()
	for n := 0; n < 6; n++ {
		require.True(t, f.Relayable(BroadcastAddr[:n]), "len=%d", n)
	}
}

func TestNilAddressFilter(t *testing.T) {
	var f *AddressFilter
	require.True(t, f.Relayable(arpRequestFrame(t)))
	require.Nil(t, f.Blocked())
}

func TestNewAddressFilter(t *testing.T) {
	custom := net.HardwareAddr{0x01, 0x80, 0xc2, 0x00, 0x00, 0x0e}
	f, err := NewAddressFilter(custom)
	require.NoError(t, err)
	require.False(t, f.Relayable(unicastFrame(t, custom, "lldp")))
	require.True(t, f.Relayable(arpRequestFrame(t)))

	_, err = NewAddressFilter(net.HardwareAddr{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidAddr)
	_, err = NewAddressFilter(make(net.HardwareAddr, 8))
	require.ErrorIs(t, err, ErrInvalidAddr)
}

func TestMaxFrameSize(t *testing.T) {
	require.Equal(t, 1518, MaxFrameSize(1500))
}
