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

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aggnet/aggnet/relay"
	"github.com/aggnet/aggnet/transport"
)

// Initiator is the connecting side of a tunnel.
type Initiator struct {
	// Dialer connects to the listener. It must return connections backed by a descriptor, such as the ones from
	// [transport.TCPDialer] or a SOCKS5 dialer over TCP.
	Dialer transport.StreamDialer
	// Address of the listener, as `host:port`.
	Address    string
	OpenDevice DeviceOpener
	// SessionOptions are applied to the session after the logger.
	SessionOptions []func(*relay.Session) error
	Logger         *slog.Logger
	Metrics        *Metrics
}

// Run opens the device, connects to the listener and relays frames until the session ends. It does not reconnect.
// It returns nil when either side closed its stream, and otherwise the error that ended the session.
func (i *Initiator) Run(ctx context.Context) error {
	if i.Dialer == nil || i.OpenDevice == nil {
		return errors.New("initiator needs a Dialer and an OpenDevice function")
	}
	log := loggerOrDefault(i.Logger).With(slog.String("remote", i.Address))

	dev, err := i.OpenDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}

	log.Debug("Connecting")
	conn, err := i.Dialer.DialStream(ctx, i.Address)
	if err != nil {
		dev.Close()
		return fmt.Errorf("failed to connect to %s: %w", i.Address, err)
	}
	log.Info("Connected", "local", conn.LocalAddr().String())
	return runSession(ctx, log, i.Metrics, dev, conn, i.SessionOptions)
}
