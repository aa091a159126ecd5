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

package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aggnet/aggnet/frame"
	"github.com/aggnet/aggnet/network"
	"golang.org/x/sys/unix"
)

const (
	// DefaultHighWaterMark is the number of queued bytes above which a session stops reading from the source of a
	// direction until the destination catches up.
	DefaultHighWaterMark = 1 << 20

	// DefaultFlushTimeout bounds how long a closing session keeps trying to deliver queued frames.
	DefaultFlushTimeout = 2 * time.Second

	socketReadSize = 64 * 1024
	minPacketSize  = 2048
)

// State is the lifecycle stage of a [Session].
type State int32

const (
	// StateRunning: frames are read and relayed in both directions.
	StateRunning State = iota
	// StateClosing: no more reads; queued frames are flushed on a best-effort basis.
	StateClosing
	// StateTerminated: both descriptors are closed.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// DirectionStats counts the frames that went through one direction of a session.
type DirectionStats struct {
	// Frames and Bytes count the frames queued for the destination and their payload bytes.
	Frames uint64
	Bytes  uint64
	// Filtered counts frames dropped by the address filter.
	Filtered uint64
	// Dropped counts frames the destination cannot carry, such as empty or oversized frames.
	Dropped uint64
}

// LogValue implements [slog.LogValuer].
func (d DirectionStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("frames", d.Frames),
		slog.Uint64("bytes", d.Bytes),
		slog.Uint64("filtered", d.Filtered),
		slog.Uint64("dropped", d.Dropped),
	)
}

// Stats of a session, per direction.
type Stats struct {
	DeviceToSocket DirectionStats
	SocketToDevice DirectionStats
}

// Session relays frames between one [network.FrameDevice] and one socket until either of them closes or fails. Both
// roles of a tunnel run the same Session: it has no notion of which side initiated the connection.
type Session struct {
	codec        frame.Codec
	filter       *network.AddressFilter
	log          *slog.Logger
	highWater    int
	flushTimeout time.Duration

	dev  *port
	sock *port

	started atomic.Bool
	state   atomic.Int32
	stats   Stats
}

// WithCodec sets the wire frame codec used on the socket and, if it is length-prefixed, on the device.
func WithCodec(codec frame.Codec) func(*Session) error {
	return func(s *Session) error {
		if codec.MaxSize <= 0 {
			return errors.New("codec MaxSize must be positive")
		}
		s.codec = codec
		return nil
	}
}

// WithAddressFilter replaces [network.DefaultAddressFilter]. A nil filter relays every frame.
func WithAddressFilter(filter *network.AddressFilter) func(*Session) error {
	return func(s *Session) error {
		s.filter = filter
		return nil
	}
}

// WithLogger sets the logger for session events. The default is [slog.Default].
func WithLogger(logger *slog.Logger) func(*Session) error {
	return func(s *Session) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		s.log = logger
		return nil
	}
}

// WithHighWaterMark sets the queue size, in bytes, above which the session stops reading from the source of a
// direction. Zero or a negative value disables backpressure and lets the queues grow without bound.
func WithHighWaterMark(n int) func(*Session) error {
	return func(s *Session) error {
		s.highWater = n
		return nil
	}
}

// WithFlushTimeout bounds the time a closing session spends delivering queued frames. Zero skips the flush.
func WithFlushTimeout(d time.Duration) func(*Session) error {
	return func(s *Session) error {
		if d < 0 {
			return errors.New("flush timeout must not be negative")
		}
		s.flushTimeout = d
		return nil
	}
}

// NewSession creates a [Session] that relays frames between dev and conn. Both descriptors are switched to
// non-blocking mode. The session takes ownership of dev and conn only if NewSession succeeds; [Session.Run] closes
// them when it returns.
func NewSession(dev network.FrameDevice, conn Handle, options ...func(*Session) error) (*Session, error) {
	if dev == nil {
		return nil, errors.New("argument dev must not be nil")
	}
	if conn == nil {
		return nil, errors.New("argument conn must not be nil")
	}
	s := &Session{
		codec:        frame.DefaultCodec,
		filter:       network.DefaultAddressFilter(),
		log:          slog.Default(),
		highWater:    DefaultHighWaterMark,
		flushTimeout: DefaultFlushTimeout,
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	devReadSize := socketReadSize
	if !dev.LengthPrefixed() {
		devReadSize = max(network.MaxFrameSize(dev.MTU()), minPacketSize)
	}
	var err error
	if s.dev, err = newPort("device", dev, dev.LengthPrefixed(), s.codec, devReadSize); err != nil {
		return nil, err
	}
	if s.sock, err = newPort("socket", conn, true, s.codec, socketReadSize); err != nil {
		return nil, err
	}
	s.log = s.log.With(slog.String("device", dev.Name()))
	return s, nil
}

// State returns the current state. It is safe to call from any goroutine.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	if old := State(s.state.Swap(int32(state))); old != state {
		s.log.Debug("Session state changed", "from", old, "to", state)
	}
}

// Stats returns the frame counters. It must not be called while Run is executing.
func (s *Session) Stats() Stats {
	return s.stats
}

// Run relays frames until the device or the socket reaches end of stream, a fatal error occurs, or ctx is done. It
// closes both descriptors before returning, on every path.
//
// Run returns nil when the session ended because either side closed its stream, ctx.Err() when ctx ended it, and
// otherwise the first fatal error: one wrapping [frame.ErrTruncatedFrame] or [frame.ErrFrameTooLarge] for protocol
// violations on the socket, or [ErrTransportFailure] for failed reads and writes.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer s.terminate()

	w, err := newWaker()
	if err != nil {
		return err
	}
	defer w.close()
	stop := context.AfterFunc(ctx, w.wake)
	defer stop()

	s.log.Debug("Session started")
	runErr := s.relay(ctx, w)
	s.setState(StateClosing)
	if ctx.Err() == nil {
		s.flush(w)
	}
	return runErr
}

func (s *Session) terminate() {
	if err := s.dev.h.Close(); err != nil {
		s.log.Debug("Failed to close device", "error", err)
	}
	if err := s.sock.h.Close(); err != nil {
		s.log.Debug("Failed to close socket", "error", err)
	}
	s.setState(StateTerminated)
}

// readEvents returns the events to request for reading p, honoring the high-water mark of the queue it feeds.
func (s *Session) readEvents(p *port, feeds *port) int16 {
	if !p.wantsRead() {
		return 0
	}
	if s.highWater > 0 && feeds.out.Size() >= s.highWater {
		return 0
	}
	return unix.POLLIN
}

func writeEvents(p *port) int16 {
	if !p.wantsWrite() {
		return 0
	}
	return unix.POLLOUT
}

func pollFd(p *port, events int16) unix.PollFd {
	if events == 0 {
		// poll(2) ignores negative descriptors, which keeps a hung-up descriptor we are not interested in from
		// reporting POLLHUP on every iteration.
		return unix.PollFd{Fd: -1}
	}
	return unix.PollFd{Fd: int32(p.fd), Events: events}
}

const (
	pollWake = iota
	pollDev
	pollSock
)

// poll blocks until one of fds is ready, the timeout in milliseconds expires, or the waker fires. It is the only
// place where a session blocks.
func poll(fds []unix.PollFd, timeout int) (int, error) {
	for {
		n, err := unix.Poll(fds, timeout)
		if err != unix.EINTR {
			return n, err
		}
	}
}

// relay runs the StateRunning part of the loop and returns the reason it ended.
func (s *Session) relay(ctx context.Context, w *waker) error {
	fds := make([]unix.PollFd, 3)
	for {
		devEvents := s.readEvents(s.dev, s.sock) | writeEvents(s.dev)
		sockEvents := s.readEvents(s.sock, s.dev) | writeEvents(s.sock)
		fds[pollWake] = unix.PollFd{Fd: int32(w.r), Events: unix.POLLIN}
		fds[pollDev] = pollFd(s.dev, devEvents)
		fds[pollSock] = pollFd(s.sock, sockEvents)

		if _, err := poll(fds, -1); err != nil {
			return fmt.Errorf("poll failed: %w", err)
		}
		if fds[pollWake].Revents != 0 {
			w.drain()
			if err := ctx.Err(); err != nil {
				s.log.Debug("Session cancelled", "error", err)
				return err
			}
		}
		devReady := fds[pollDev].Revents
		sockReady := fds[pollSock].Revents
		if devReady&unix.POLLNVAL != 0 {
			return s.dev.failure("poll", unix.EBADF)
		}
		if sockReady&unix.POLLNVAL != 0 {
			return s.sock.failure("poll", unix.EBADF)
		}
		// Errors and hang-ups are surfaced by the read or write that follows.
		const failed = unix.POLLERR | unix.POLLHUP

		if devEvents&unix.POLLIN != 0 && devReady&(unix.POLLIN|failed) != 0 {
			if done, err := s.readDevice(); done || err != nil {
				return err
			}
		}
		if sockEvents&unix.POLLIN != 0 && sockReady&(unix.POLLIN|failed) != 0 {
			if done, err := s.readSocket(); done || err != nil {
				return err
			}
		}
		if devEvents&unix.POLLOUT != 0 && devReady&(unix.POLLOUT|failed) != 0 {
			if err := s.writeDevice(); err != nil {
				return err
			}
		}
		if sockEvents&unix.POLLOUT != 0 && sockReady&(unix.POLLOUT|failed) != 0 {
			if err := s.writeSocket(); err != nil {
				return err
			}
		}
	}
}

// readDevice performs one read from the device and queues the relayable frames for the socket. It returns done when
// the device reached end of stream.
func (s *Session) readDevice() (done bool, err error) {
	n, err := s.dev.read()
	switch {
	case isWouldBlock(err):
		return false, nil
	case errors.Is(err, io.EOF):
		s.dev.eof = true
		s.log.Debug("Device closed")
		if s.dev.prefixed {
			if err := s.dev.dec.Finish(); err != nil {
				s.log.Warn("Device closed in the middle of a frame", "error", err)
			}
		}
		return true, nil
	case err != nil:
		return true, s.dev.failure("read", err)
	}
	if !s.dev.prefixed {
		s.forward(s.dev.rbuf[:n], s.sock, &s.stats.DeviceToSocket)
		return false, nil
	}
	s.dev.dec.Feed(s.dev.rbuf[:n])
	if err := s.drainDecoder(s.dev, s.sock, &s.stats.DeviceToSocket); err != nil {
		return true, fmt.Errorf("invalid frame from device: %w", err)
	}
	return false, nil
}

// readSocket performs one read from the socket and queues the relayable frames for the device. It returns done when
// the peer closed the connection.
func (s *Session) readSocket() (done bool, err error) {
	n, err := s.sock.read()
	switch {
	case isWouldBlock(err):
		return false, nil
	case errors.Is(err, io.EOF):
		s.sock.eof = true
		if err := s.sock.dec.Finish(); err != nil {
			return true, err
		}
		s.log.Debug("Peer closed the connection")
		return true, nil
	case err != nil:
		return true, s.sock.failure("read", err)
	}
	s.sock.dec.Feed(s.sock.rbuf[:n])
	if err := s.drainDecoder(s.sock, s.dev, &s.stats.SocketToDevice); err != nil {
		return true, err
	}
	return false, nil
}

func (s *Session) drainDecoder(from, to *port, stats *DirectionStats) error {
	for {
		payload, err := from.dec.Next()
		if errors.Is(err, frame.ErrIncomplete) {
			return nil
		}
		if err != nil {
			return err
		}
		s.forward(payload, to, stats)
	}
}

// forward queues payload for the destination port in the destination's format, unless it is filtered out or cannot
// be represented there.
func (s *Session) forward(payload []byte, to *port, stats *DirectionStats) {
	if !s.filter.Relayable(payload) {
		stats.Filtered++
		return
	}
	var chunk []byte
	if to.prefixed {
		var err error
		if chunk, err = s.codec.Encode(payload); err != nil {
			stats.Dropped++
			s.log.Warn("Dropped frame", "to", to.name, "error", err)
			return
		}
	} else {
		if len(payload) == 0 {
			stats.Dropped++
			s.log.Debug("Dropped empty frame", "to", to.name)
			return
		}
		chunk = bytes.Clone(payload)
	}
	to.out.PushBack(chunk)
	stats.Frames++
	stats.Bytes += uint64(len(payload))
}

func (s *Session) writeSocket() error {
	return s.writeFront(s.sock)
}

func (s *Session) writeDevice() error {
	return s.writeFront(s.dev)
}

// writeFront makes one attempt to send the head of p's queue. A short write keeps the remainder at the head.
func (s *Session) writeFront(p *port) error {
	front := p.out.Front()
	n, err := p.write(front)
	switch {
	case isWouldBlock(err):
		return nil
	case !p.prefixed && (err == unix.EMSGSIZE || err == unix.EINVAL):
		// The device rejected this frame only; later frames may still go through.
		p.out.PopFront()
		s.log.Warn("Device rejected frame", "size", len(front), "error", err)
		return nil
	case err != nil:
		return p.failure("write", err)
	case n == 0:
		return p.failure("write", errNoProgress)
	}
	if !p.prefixed && n < len(front) {
		// Frame boundaries are write boundaries, so the rest cannot be sent on its own.
		p.out.PopFront()
		s.log.Warn("Device truncated frame", "size", len(front), "written", n)
		return nil
	}
	p.out.Advance(n)
	return nil
}

// flush tries to deliver the queued frames to the ports that still accept writes, for at most the flush timeout.
func (s *Session) flush(w *waker) {
	if s.flushTimeout == 0 {
		return
	}
	deadline := time.Now().Add(s.flushTimeout)
	fds := make([]unix.PollFd, 3)
	for {
		devEvents := writeEvents(s.dev)
		sockEvents := writeEvents(s.sock)
		if devEvents == 0 && sockEvents == 0 {
			return
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.log.Warn("Gave up flushing queued frames",
				"device_frames", s.dev.out.Len(), "device_bytes", s.dev.out.Size(),
				"socket_frames", s.sock.out.Len(), "socket_bytes", s.sock.out.Size())
			return
		}
		fds[pollWake] = unix.PollFd{Fd: int32(w.r), Events: unix.POLLIN}
		fds[pollDev] = pollFd(s.dev, devEvents)
		fds[pollSock] = pollFd(s.sock, sockEvents)
		// Round up so that a sub-millisecond remainder does not turn into a busy loop.
		if _, err := poll(fds, int((remaining+time.Millisecond-1)/time.Millisecond)); err != nil {
			s.log.Warn("Failed to flush queued frames", "error", err)
			return
		}
		if fds[pollWake].Revents != 0 {
			return
		}
		s.flushReady(s.dev, fds[pollDev].Revents)
		s.flushReady(s.sock, fds[pollSock].Revents)
	}
}

func (s *Session) flushReady(p *port, ready int16) {
	switch {
	case ready == 0:
	case ready&unix.POLLNVAL != 0:
		p.broken = true
	default:
		if err := s.writeFront(p); err != nil {
			// Expected when the peer closed both directions of the connection.
			s.log.Debug("Failed to flush queued frames", "error", err)
		}
	}
}
