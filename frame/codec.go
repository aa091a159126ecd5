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

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PrefixLen is the size of the length field that precedes every payload on the wire.
const PrefixLen = 4

// DefaultMaxSize is the largest payload accepted by [DefaultCodec]. It leaves room for jumbo frames and any
// link-layer encapsulation the local device adds.
const DefaultMaxSize = 65535

var (
	// ErrTruncatedFrame is returned when the stream ends after a complete length prefix but before the declared
	// number of payload bytes was delivered. It is a protocol violation and must not be retried.
	ErrTruncatedFrame = errors.New("truncated frame")

	// ErrFrameTooLarge is returned when a length prefix, or a payload to be encoded, exceeds the codec's MaxSize.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrIncomplete is returned by [Decoder.Next] when more bytes are needed to complete the next frame. It is not a
	// failure: the caller should feed more data once the source is readable again.
	ErrIncomplete = errors.New("incomplete frame")
)

// Codec encodes and decodes wire frames. The zero value is not usable; start from [DefaultCodec].
type Codec struct {
	// ByteOrder of the length prefix.
	ByteOrder binary.ByteOrder
	// MaxSize is the largest payload length accepted in either direction.
	MaxSize int
}

// DefaultCodec uses the host byte order and [DefaultMaxSize].
var DefaultCodec = Codec{ByteOrder: binary.NativeEndian, MaxSize: DefaultMaxSize}

func (c Codec) order() binary.ByteOrder {
	if c.ByteOrder == nil {
		return binary.NativeEndian
	}
	return c.ByteOrder
}

func (c Codec) checkSize(n uint64) error {
	if n > uint64(c.MaxSize) {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, n, c.MaxSize)
	}
	return nil
}

// Append appends the wire representation of payload to dst and returns the extended buffer.
func (c Codec) Append(dst []byte, payload []byte) ([]byte, error) {
	if err := c.checkSize(uint64(len(payload))); err != nil {
		return dst, err
	}
	var prefix [PrefixLen]byte
	c.order().PutUint32(prefix[:], uint32(len(payload)))
	dst = append(dst, prefix[:]...)
	return append(dst, payload...), nil
}

// Encode returns a newly allocated wire frame holding payload.
func (c Codec) Encode(payload []byte) ([]byte, error) {
	return c.Append(make([]byte, 0, PrefixLen+len(payload)), payload)
}

// WriteFrame writes payload as one wire frame to w.
func (c Codec) WriteFrame(w io.Writer, payload []byte) error {
	b, err := c.Encode(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads exactly one wire frame from r and returns its payload.
//
// If r reaches end of stream before a complete length prefix is read, ReadFrame returns [io.EOF]: the peer closed the
// stream between frames. If the stream ends after the prefix but before the full payload, it returns an error
// wrapping [ErrTruncatedFrame]. A declared length above MaxSize yields [ErrFrameTooLarge] without reading the payload.
func (c Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	length := c.order().Uint32(prefix[:])
	if err := c.checkSize(uint64(length)); err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	n, err := io.ReadFull(r, payload)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: got %d of %d payload bytes", ErrTruncatedFrame, n, length)
		}
		return nil, err
	}
	return payload, nil
}
