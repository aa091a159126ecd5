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
	"fmt"
	"io"
	"syscall"

	"github.com/aggnet/aggnet/frame"
	"github.com/aggnet/aggnet/internal/sendq"
	"golang.org/x/sys/unix"
)

// Handle is a descriptor that a [Session] can poll and read or write without blocking, such as a *net.TCPConn,
// *net.UnixConn or *os.File.
type Handle interface {
	syscall.Conn
	io.Closer
}

// port is one side of a session: a descriptor, the decoder for what it sends us and the queue of what we send it.
type port struct {
	name string
	h    Handle
	rc   syscall.RawConn
	// Only used to register interest with poll. All I/O goes through rc so that it is serialized with Close.
	fd int
	// Whether the descriptor carries wire frames. Otherwise every read and write is exactly one frame.
	prefixed bool

	dec  *frame.Decoder
	rbuf []byte
	out  sendq.Queue

	// The peer will not send anything else.
	eof bool
	// A read or write failed; the descriptor must not be written to anymore.
	broken bool
}

func newPort(name string, h Handle, prefixed bool, codec frame.Codec, readSize int) (*port, error) {
	if h == nil {
		return nil, fmt.Errorf("argument %s must not be nil", name)
	}
	rc, err := h.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("failed to access %s descriptor: %w", name, err)
	}
	p := &port{name: name, h: h, rc: rc, fd: -1, prefixed: prefixed, rbuf: make([]byte, readSize)}
	var nbErr error
	err = rc.Control(func(fd uintptr) {
		p.fd = int(fd)
		nbErr = unix.SetNonblock(int(fd), true)
	})
	if err == nil {
		err = nbErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to make %s descriptor non-blocking: %w", name, err)
	}
	if prefixed {
		p.dec = codec.NewDecoder()
	}
	return p, nil
}

// read performs a single non-blocking read into p.rbuf. It returns io.EOF at end of stream and unix.EAGAIN when
// there is nothing to read.
func (p *port) read() (int, error) {
	var n int
	var err error
	cerr := p.rc.Control(func(fd uintptr) {
		for {
			n, err = unix.Read(int(fd), p.rbuf)
			if err != unix.EINTR {
				return
			}
		}
	})
	if cerr != nil {
		return 0, cerr
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// write performs a single non-blocking write of b.
func (p *port) write(b []byte) (int, error) {
	var n int
	var err error
	cerr := p.rc.Control(func(fd uintptr) {
		for {
			n, err = unix.Write(int(fd), b)
			if err != unix.EINTR {
				return
			}
		}
	})
	if cerr != nil {
		return 0, cerr
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (p *port) failure(op string, err error) error {
	p.broken = true
	return &TransportError{Port: p.name, Op: op, Err: err}
}

// wantsRead reports whether the loop should wait for the descriptor to become readable.
func (p *port) wantsRead() bool {
	return !p.eof && !p.broken
}

// wantsWrite reports whether the loop should wait for the descriptor to become writable.
func (p *port) wantsWrite() bool {
	return !p.out.Empty() && !p.broken
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
