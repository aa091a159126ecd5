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

/*
The network package defines interfaces and utilities for link layer (OSI layer 2) functionalities. For example, you
can use the [FrameDevice] interface to read and write Ethernet frames from a virtual network device, and an
[AddressFilter] to keep local-link control traffic such as broadcasts from leaving the link.

The sub-packages open concrete devices: [network/tapdev] creates a Linux TAP interface and [network/chardev] opens
the aggnet character device.
*/
package network
