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

package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportFailure is wrapped by errors caused by a failed read or write on the socket or the device, or by a
	// write that made no progress. The session cannot continue after it.
	ErrTransportFailure = errors.New("transport failure")

	// ErrAlreadyStarted is returned by [Session.Run] when it is called more than once.
	ErrAlreadyStarted = errors.New("session already started")

	errNoProgress = errors.New("write made no progress")
)

// TransportError describes a failed operation on one of the session's descriptors. It matches
// [ErrTransportFailure] with [errors.Is] and unwraps to the underlying error, usually a [syscall.Errno].
type TransportError struct {
	// Port is "device" or "socket".
	Port string
	// Op is "read" or "write".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Port, e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransportFailure, e.Err}
}
