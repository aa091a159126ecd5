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
	"net"
	"syscall"
	"time"

	"github.com/aggnet/aggnet/relay"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Listener is the accepting side of a tunnel. It serves one connection at a time.
type Listener struct {
	// OpenDevice is called once per accepted connection, after the accept.
	OpenDevice DeviceOpener
	// SessionOptions are applied to every session after the logger.
	SessionOptions []func(*relay.Session) error
	Logger         *slog.Logger
	// Metrics, if set, records every session.
	Metrics *Metrics
}

// Serve accepts connections on ln and relays each of them to a freshly opened device until the session ends, then
// accepts the next one. A failed session is logged and does not stop Serve.
//
// Accept errors caused by resource exhaustion are retried with a capped backoff. Serve closes ln when ctx is done and
// then returns nil. It returns an error if accepting fails for another reason.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	if l.OpenDevice == nil {
		return errors.New("listener needs an OpenDevice function")
	}
	log := loggerOrDefault(l.Logger)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	log.Info("Listening", "address", ln.Addr().String())
	var backoff time.Duration
	for id := 0; ; {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Stopped listening")
				return nil
			}
			if isTemporaryAcceptError(err) {
				backoff = min(max(2*backoff, minAcceptBackoff), maxAcceptBackoff)
				log.Warn("Failed to accept connection, retrying", "error", err, "backoff", backoff)
				select {
				case <-ctx.Done():
				case <-time.After(backoff):
				}
				continue
			}
			ln.Close()
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		backoff = 0
		id++
		l.serveConn(ctx, log.With(slog.Int("session", id), slog.String("remote", conn.RemoteAddr().String())), conn)
	}
}

func (l *Listener) serveConn(ctx context.Context, log *slog.Logger, conn net.Conn) {
	log.Info("Accepted connection")
	dev, err := l.OpenDevice(ctx)
	if err != nil {
		log.Error("Failed to open device", "error", err)
		conn.Close()
		return
	}
	// Errors are already logged with the session stats.
	runSession(ctx, log, l.Metrics, dev, conn, l.SessionOptions)
}

// isTemporaryAcceptError reports whether Accept may succeed later, for example once descriptors are released.
func isTemporaryAcceptError(err error) bool {
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
