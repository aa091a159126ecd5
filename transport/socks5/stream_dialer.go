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
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aggnet/aggnet/transport"
)

// https://datatracker.ietf.org/doc/html/rfc1929
// Credentials can be nil, and that means no authentication.
type credentials struct {
	username []byte
	password []byte
}

// NewStreamDialer creates a [transport.StreamDialer] that routes connections to a SOCKS5
// proxy listening at the given [transport.StreamEndpoint].
//
// The connections it returns are the proxy connections themselves, after the CONNECT handshake. When the endpoint
// returns TCP connections, they can be handed to a relay session directly.
func NewStreamDialer(endpoint transport.StreamEndpoint) (*StreamDialer, error) {
	if endpoint == nil {
		return nil, errors.New("argument endpoint must not be nil")
	}
	return &StreamDialer{proxyEndpoint: endpoint, cred: nil}, nil
}

type StreamDialer struct {
	proxyEndpoint transport.StreamEndpoint
	cred          *credentials
}

var _ transport.StreamDialer = (*StreamDialer)(nil)

// SetCredentials enables username/password authentication with the proxy.
func (c *StreamDialer) SetCredentials(username, password []byte) error {
	if len(username) > 255 {
		return errors.New("username exceeds 255 bytes")
	}
	if len(username) == 0 {
		return errors.New("username must be at least 1 byte")
	}

	if len(password) > 255 {
		return errors.New("password exceeds 255 bytes")
	}
	if len(password) == 0 {
		return errors.New("password must be at least 1 byte")
	}

	c.cred = &credentials{username: username, password: password}
	return nil
}

// DialStream implements [transport.StreamDialer].DialStream using SOCKS5.
// It will send the auth method, auth credentials (if auth is chosen), and
// the connect requests in one packet, to avoid an additional roundtrip.
// The returned [error] will be of type [ReplyCode] if the server sends a SOCKS error reply code, which
// you can check against the error constants in this package using [errors.Is].
func (c *StreamDialer) DialStream(ctx context.Context, remoteAddr string) (transport.StreamConn, error) {
	trace := GetSOCKS5ClientTrace(ctx)
	if trace != nil && trace.RequestStarted != nil {
		trace.RequestStarted(CmdConnect, remoteAddr)
	}
	conn, bindAddr, err := c.connect(ctx, remoteAddr)
	if trace != nil && trace.RequestDone != nil {
		trace.RequestDone("tcp", bindAddr, err)
	}
	return conn, err
}

func (c *StreamDialer) connect(ctx context.Context, remoteAddr string) (transport.StreamConn, string, error) {
	proxyConn, err := c.proxyEndpoint.ConnectStream(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("could not connect to SOCKS5 proxy: %w", err)
	}
	dialSuccess := false
	defer func() {
		if !dialSuccess {
			proxyConn.Close()
		}
	}()

	// For protocol details, see https://datatracker.ietf.org/doc/html/rfc1928#section-3
	// The maximum buffer size is:
	// 3 (1 socks version + 1 method selection + 1 methods)
	// + 1 (auth version) + 1 (username length) + 255 (username) + 1 (password length) + 255 (password)
	// + 3 (connect request header) + 1 (address type) + 1 (domain length) + 255 (domain) + 2 (port)
	var buffer [(1 + 1 + 1) + (1 + 1 + 255 + 1 + 255) + (3 + 1 + 1 + 255 + 2)]byte
	var b []byte

	if c.cred == nil {
		// Method selection part: VER = 5, NMETHODS = 1, METHODS = 0 (no auth)
		// +----+----------+----------+
		// |VER | NMETHODS | METHODS  |
		// +----+----------+----------+
		// | 1  |    1     | 1 to 255 |
		// +----+----------+----------+
		b = append(buffer[:0], 5, 1, authMethodNoAuth)
	} else {
		// Method selection part: VER = 5, NMETHODS = 1, METHODS = 2 (username/password)
		b = append(buffer[:0], 5, 1, authMethodUserPass)

		// Authentication part: VER = 1, ULEN = 1, UNAME = 1~255, PLEN = 1, PASSWD = 1~255
		// +----+------+----------+------+----------+
		// |VER | ULEN |  UNAME   | PLEN |  PASSWD  |
		// +----+------+----------+------+----------+
		// | 1  |  1   | 1 to 255 |  1   | 1 to 255 |
		// +----+------+----------+------+----------+
		b = append(b, 1)
		b = append(b, byte(len(c.cred.username)))
		b = append(b, c.cred.username...)
		b = append(b, byte(len(c.cred.password)))
		b = append(b, c.cred.password...)
	}

	// Connect request:
	// VER = 5, CMD = 1 (connect), RSV = 0, DST.ADDR, DST.PORT
	// +----+-----+-------+------+----------+----------+
	// |VER | CMD |  RSV  | ATYP | DST.ADDR | DST.PORT |
	// +----+-----+-------+------+----------+----------+
	// | 1  |  1  | X'00' |  1   | Variable |    2     |
	// +----+-----+-------+------+----------+----------+
	b = append(b, 5, CmdConnect, 0)
	b, err = appendSOCKS5Address(b, remoteAddr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create SOCKS5 address: %w", err)
	}

	// A single authentication method is offered, so the connect request does not need to wait for the method
	// response.
	if _, err = proxyConn.Write(b); err != nil {
		return nil, "", fmt.Errorf("failed to write combined SOCKS5 request: %w", err)
	}

	// 1. Method response: VER, METHOD.
	if _, err = io.ReadFull(proxyConn, buffer[:2]); err != nil {
		return nil, "", fmt.Errorf("failed to read method server response: %w", err)
	}
	if buffer[0] != 5 {
		return nil, "", fmt.Errorf("invalid protocol version %v. Expected 5", buffer[0])
	}

	switch buffer[1] {
	case authMethodNoAuth:
		// No authentication required.
	case authMethodUserPass:
		// 2. Authentication response: VER = 1, STATUS = 0 on success.
		if _, err = io.ReadFull(proxyConn, buffer[2:4]); err != nil {
			return nil, "", fmt.Errorf("failed to read authentication version and status: %w", err)
		}
		if buffer[2] != 1 {
			return nil, "", fmt.Errorf("invalid authentication version %v. Expected 1", buffer[2])
		}
		if buffer[3] != 0 {
			return nil, "", fmt.Errorf("authentication failed: %v", buffer[3])
		}
	default:
		return nil, "", fmt.Errorf("unsupported SOCKS authentication method %v", buffer[1])
	}

	// 3. Connect response: VER, REP, RSV, then BND.ADDR and BND.PORT in address format.
	// See https://datatracker.ietf.org/doc/html/rfc1928#section-6.
	// +----+-----+-------+------+----------+----------+
	// |VER | REP |  RSV  | ATYP | BND.ADDR | BND.PORT |
	// +----+-----+-------+------+----------+----------+
	// | 1  |  1  | X'00' |  1   | Variable |    2     |
	// +----+-----+-------+------+----------+----------+
	if _, err = io.ReadFull(proxyConn, buffer[:3]); err != nil {
		return nil, "", fmt.Errorf("failed to read connect server response: %w", err)
	}
	if buffer[0] != 5 {
		return nil, "", fmt.Errorf("invalid protocol version %v. Expected 5", buffer[0])
	}
	// A non-zero REP means the server returned an error.
	if buffer[1] != 0 {
		return nil, "", ReplyCode(buffer[1])
	}

	bindAddr, err := readAddr(proxyConn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read bound address: %w", err)
	}
	dialSuccess = true
	return proxyConn, bindAddr.String(), nil
}
