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

/*
Package bridge establishes the connections of an aggnet tunnel and runs a [relay.Session] over each of them.

An [Initiator] opens its device, connects to a fixed address and relays until the session ends. A [Listener] accepts
one connection at a time and opens a fresh device for each, so a peer that disconnects can be replaced without
restarting the process.
*/
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"syscall"

	"github.com/aggnet/aggnet/network"
	"github.com/aggnet/aggnet/relay"
	"github.com/aggnet/aggnet/transport"
)

// DeviceOpener opens the local device for a new session. The session closes the device when it ends.
type DeviceOpener func(ctx context.Context) (network.FrameDevice, error)

// connHandle lets the relay poll a connection's descriptor while Close still goes through the connection.
type connHandle struct {
	syscall.Conn
	conn net.Conn
}

func (h *connHandle) Close() error {
	return h.conn.Close()
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// runSession relays between dev and conn until the session ends. It always closes both.
func runSession(ctx context.Context, log *slog.Logger, metrics *Metrics, dev network.FrameDevice, conn net.Conn, options []func(*relay.Session) error) error {
	sc, err := transport.AsSyscallConn(conn)
	if err != nil {
		dev.Close()
		conn.Close()
		return err
	}
	opts := make([]func(*relay.Session) error, 0, len(options)+1)
	opts = append(opts, relay.WithLogger(log))
	opts = append(opts, options...)
	session, err := relay.NewSession(dev, &connHandle{Conn: sc, conn: conn}, opts...)
	if err != nil {
		dev.Close()
		conn.Close()
		return fmt.Errorf("failed to create session: %w", err)
	}

	log.Info("Session started", "device", dev.Name())
	metrics.sessionStarted()
	err = session.Run(ctx)
	stats := session.Stats()
	metrics.sessionEnded(stats, err)
	attrs := []any{"device_to_socket", stats.DeviceToSocket, "socket_to_device", stats.SocketToDevice}
	if err != nil {
		log.Warn("Session ended", append(attrs, "error", err)...)
	} else {
		log.Info("Session ended", attrs...)
	}
	return err
}
