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

import "fmt"

// Decoder reassembles wire frames from bytes that arrive in arbitrary pieces, as they do when reading a non-blocking
// stream. It never reads by itself: the owner feeds whatever a single read returned and then drains complete frames
// with Next.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	codec Codec
	buf   []byte
	// Start of the unconsumed bytes in buf.
	off int
}

// NewDecoder creates a [Decoder] that uses the byte order and size limit of c.
func (c Codec) NewDecoder() *Decoder {
	return &Decoder{codec: c}
}

// Feed appends p to the pending input. The decoder copies p, so the caller may reuse it.
func (d *Decoder) Feed(p []byte) {
	if d.off > 0 && d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	} else if d.off > cap(d.buf)/2 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes fed but not yet returned as part of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Next returns the payload of the next complete frame, or [ErrIncomplete] if the pending bytes do not hold one yet.
// The returned slice aliases the decoder's buffer and is only valid until the next call to Feed.
//
// A length prefix above the codec's MaxSize yields [ErrFrameTooLarge]; the stream cannot be resynchronized after that.
func (d *Decoder) Next() ([]byte, error) {
	pending := d.buf[d.off:]
	if len(pending) < PrefixLen {
		return nil, ErrIncomplete
	}
	length := d.codec.order().Uint32(pending[:PrefixLen])
	if err := d.codec.checkSize(uint64(length)); err != nil {
		return nil, err
	}
	end := PrefixLen + int(length)
	if len(pending) < end {
		return nil, ErrIncomplete
	}
	d.off += end
	return pending[PrefixLen:end:end], nil
}

// Finish reports whether the stream may end here, and is meant to be called at end of stream once Next has returned
// [ErrIncomplete]. It returns nil when no frame is partially received, including when only part of a length prefix
// arrived, and an error wrapping [ErrTruncatedFrame] when a length prefix was complete but its payload was not.
func (d *Decoder) Finish() error {
	pending := d.buf[d.off:]
	if len(pending) < PrefixLen {
		return nil
	}
	length := d.codec.order().Uint32(pending[:PrefixLen])
	return fmt.Errorf("%w: got %d of %d payload bytes", ErrTruncatedFrame, len(pending)-PrefixLen, length)
}
