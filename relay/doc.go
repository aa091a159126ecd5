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

/*
Package relay moves Ethernet frames between a local [network.FrameDevice] and a connected stream socket, so that the
device and the device on the other end of the socket behave as if they shared a link.

A [Session] owns one device and one socket. It runs a single readiness loop: it waits in poll(2) for the descriptors
it is interested in, then performs at most one non-blocking read or write per ready descriptor, always in the order
device-read, socket-read, device-write, socket-write:

	       +--------+   frames    +-------------+   wire frames   +--------+
	TAP -->| device |--filter---->| socket queue|---------------->| socket |--> peer
	TAP <--|        |<------------| device queue|<----filter------|        |<-- peer
	       +--------+             +-------------+                 +--------+

Frames whose destination address is blocked by the [network.AddressFilter] are dropped in both directions. Short
writes keep the unsent bytes at the head of the queue. While a queue holds more than the high-water mark, the loop
stops reading from the descriptor that feeds it, which pushes back on the sender through the socket or the device.

The session ends when either descriptor reaches end of stream, a protocol or transport error occurs, or the context
is cancelled. It then flushes what it can within a bounded time and closes both descriptors.
*/
package relay
