// Copyright 2023 Jigsaw Operations LLC
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

package socks5

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressEncoding(t *testing.T) {
	tests := []struct {
		address string
		wire    []byte
	}{
		{"192.0.2.7:7000", []byte{addrTypeIPv4, 192, 0, 2, 7, 0x1b, 0x58}},
		{"[2001:db8::1]:443", []byte{addrTypeIPv6, 0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0x01, 0xbb}},
		{"peer.example:7000", append(append([]byte{addrTypeDomainName, 12}, "peer.example"...), 0x1b, 0x58)},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			b, err := appendSOCKS5Address([]byte{0x05}, tt.address)
			require.NoError(t, err)
			require.Equal(t, append([]byte{0x05}, tt.wire...), b)

			addr, err := readAddr(bytes.NewReader(tt.wire))
			require.NoError(t, err)
			require.Equal(t, tt.address, addr.String())
		})
	}
}

func TestAppendSOCKS5AddressErrors(t *testing.T) {
	for _, address := range []string{
		"no-port",
		"peer.example:aggnet",
		"peer.example:70000",
		strings.Repeat("a", 256) + ":7000",
	} {
		_, err := appendSOCKS5Address(nil, address)
		require.Error(t, err, address)
	}
}

func TestReadAddrErrors(t *testing.T) {
	tests := map[string][]byte{
		"empty":             {},
		"unknown type":      {0x02, 1, 2, 3, 4, 0, 80},
		"short IPv4":        {addrTypeIPv4, 127, 0},
		"short IPv6":        {addrTypeIPv6, 0x20, 0x01},
		"short domain name": {addrTypeDomainName, 12, 'p', 'e', 'e', 'r'},
		"missing port":      {addrTypeIPv4, 127, 0, 0, 1, 0x1b},
	}
	for name, wire := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := readAddr(bytes.NewReader(wire))
			require.Error(t, err)
		})
	}
}

func TestReadAddrLeavesTrailingData(t *testing.T) {
	r := bytes.NewReader([]byte{addrTypeDomainName, 1, 'a', 0, 53, 'x'})
	addr, err := readAddr(r)
	require.NoError(t, err)
	require.Equal(t, &address{Name: "a", Port: 53}, addr)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), rest)
}
