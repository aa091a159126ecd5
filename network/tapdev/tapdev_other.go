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

//go:build !linux

package tapdev

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/aggnet/aggnet/network"
)

// Open is only supported on Linux.
func Open(config Config) (network.FrameDevice, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("TAP devices are not supported on %s: %w", runtime.GOOS, errors.ErrUnsupported)
}
