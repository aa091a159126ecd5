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

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"

	"github.com/aggnet/aggnet/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	StreamConn
}

func TestFuncStreamDialer(t *testing.T) {
	expectedConn := &fakeConn{}
	expectedErr := errors.New("fake error")
	dialer := FuncStreamDialer(func(ctx context.Context, addr string) (StreamConn, error) {
		require.Equal(t, "unused", addr)
		return expectedConn, expectedErr
	})
	conn, err := dialer.DialStream(context.Background(), "unused")
	require.Equal(t, expectedConn, conn)
	require.Equal(t, expectedErr, err)
}

// The dialer carries wire frames in both directions and half-closes cleanly.
func TestTCPDialerExchangesFrames(t *testing.T) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := listener.AcceptTCP()
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		request, err := frame.DefaultCodec.ReadFrame(conn)
		assert.NoError(t, err)
		assert.Equal(t, []byte("who-has"), request)
		_, err = frame.DefaultCodec.ReadFrame(conn)
		assert.ErrorIs(t, err, io.EOF)
		assert.NoError(t, frame.DefaultCodec.WriteFrame(conn, []byte("is-at")))
		assert.NoError(t, conn.CloseWrite())
	}()

	dialer := &TCPDialer{}
	dialer.Dialer.Control = func(network, address string, c syscall.RawConn) error {
		require.Equal(t, "tcp4", network)
		require.Equal(t, listener.Addr().String(), address)
		return nil
	}
	conn, err := dialer.DialStream(context.Background(), listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, listener.Addr().String(), conn.RemoteAddr().String())

	require.NoError(t, frame.DefaultCodec.WriteFrame(conn, []byte("who-has")))
	require.NoError(t, conn.CloseWrite())
	reply, err := frame.DefaultCodec.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, []byte("is-at"), reply)
	_, err = frame.DefaultCodec.ReadFrame(conn)
	require.ErrorIs(t, err, io.EOF)
	wg.Wait()
}

func TestNewTCPStreamDialerAddress(t *testing.T) {
	errCancel := errors.New("cancelled")
	dialer := &TCPDialer{}

	dialer.Dialer.Control = func(network, address string, c syscall.RawConn) error {
		require.Equal(t, "tcp4", network)
		require.Equal(t, "8.8.8.8:53", address)
		return errCancel
	}
	_, err := dialer.DialStream(context.Background(), "8.8.8.8:53")
	require.ErrorIs(t, err, errCancel)

	dialer.Dialer.Control = func(network, address string, c syscall.RawConn) error {
		require.Equal(t, "tcp6", network)
		require.Equal(t, "[2001:4860:4860::8888]:53", address)
		return errCancel
	}
	_, err = dialer.DialStream(context.Background(), "[2001:4860:4860::8888]:53")
	require.ErrorIs(t, err, errCancel)
}

func TestDialStreamEndpointAddr(t *testing.T) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err, "Failed to create TCP listener")
	defer listener.Close()

	endpoint := TCPEndpoint{Address: listener.Addr().String()}
	endpoint.Dialer.Control = func(network, address string, c syscall.RawConn) error {
		require.Equal(t, "tcp4", network)
		require.Equal(t, listener.Addr().String(), address)
		return nil
	}
	conn, err := endpoint.ConnectStream(context.Background())
	require.NoError(t, err)
	require.Equal(t, listener.Addr().String(), conn.RemoteAddr().String())
	require.Nil(t, conn.Close())
}

func TestAsSyscallConn(t *testing.T) {
	_, err := AsSyscallConn(&fakeConn{})
	require.ErrorIs(t, err, ErrNotSyscallConn)

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()
	conn, err := (&TCPDialer{}).DialStream(context.Background(), listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	sc, err := AsSyscallConn(conn)
	require.NoError(t, err)
	_, err = sc.SyscallConn()
	require.NoError(t, err)
}
