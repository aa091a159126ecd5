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
Package frame implements the wire format used to carry link-layer frames over a byte stream.

Each frame on the wire is a 4-byte unsigned length followed by exactly that many payload bytes:

	+----------+-------------------+
	|  LENGTH  |      PAYLOAD      |
	+----------+-------------------+
	|    4     |  LENGTH bytes     |
	+----------+-------------------+

The length uses the host byte order by default, which is what the aggnet character device produces. Peers on hosts
with different byte orders must agree on an explicit order through [Codec].ByteOrder.

Use [Codec.ReadFrame] and [Codec.WriteFrame] with blocking readers and writers, and a [Decoder] when bytes arrive in
arbitrary pieces from a non-blocking descriptor.
*/
package frame
