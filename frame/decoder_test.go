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
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeAll(t *testing.T, payloads ...string) []byte {
	var b []byte
	for _, p := range payloads {
		var err error
		b, err = DefaultCodec.Append(b, []byte(p))
		require.NoError(t, err)
	}
	return b
}

// drain returns copies of all complete frames currently buffered.
func drain(t *testing.T, d *Decoder) []string {
	var frames []string
	for {
		f, err := d.Next()
		if err == ErrIncomplete {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, string(f))
	}
}

func TestDecoderWholeStream(t *testing.T) {
	d := DefaultCodec.NewDecoder()
	d.Feed(encodeAll(t, "A", "", "BB", "CCC"))
	require.Equal(t, []string{"A", "", "BB", "CCC"}, drain(t, d))
	require.Equal(t, 0, d.Buffered())
	require.NoError(t, d.Finish())
}

func TestDecoderEverySplit(t *testing.T) {
	stream := encodeAll(t, "hello", "", "world!")
	for chunk := 1; chunk <= len(stream); chunk++ {
		d := DefaultCodec.NewDecoder()
		var got []string
		for start := 0; start < len(stream); start += chunk {
			end := min(start+chunk, len(stream))
			d.Feed(stream[start:end])
			got = append(got, drain(t, d)...)
		}
		require.Equal(t, []string{"hello", "", "world!"}, got, "chunk=%d", chunk)
		require.NoError(t, d.Finish())
	}
}

func TestDecoderFeedCopiesInput(t *testing.T) {
	d := DefaultCodec.NewDecoder()
	in := encodeAll(t, "abc")
	d.Feed(in)
	for i := range in {
		in[i] = 0xff
	}
	require.Equal(t, []string{"abc"}, drain(t, d))
}

func TestDecoderTruncated(t *testing.T) {
	d := DefaultCodec.NewDecoder()
	stream := encodeAll(t, "complete", "partial")
	d.Feed(stream[:len(stream)-3])
	require.Equal(t, []string{"complete"}, drain(t, d))
	require.ErrorIs(t, d.Finish(), ErrTruncatedFrame)
}

func TestDecoderPartialPrefixAtEOF(t *testing.T) {
	d := DefaultCodec.NewDecoder()
	d.Feed([]byte{1, 0})
	_, err := d.Next()
	require.ErrorIs(t, err, ErrIncomplete)
	require.NoError(t, d.Finish())
}

func TestDecoderTooLarge(t *testing.T) {
	d := Codec{ByteOrder: binary.BigEndian, MaxSize: 3}.NewDecoder()
	d.Feed([]byte{0, 0, 0, 4, 1, 2, 3, 4})
	_, err := d.Next()
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecoderCompacts(t *testing.T) {
	d := DefaultCodec.NewDecoder()
	frame := encodeAll(t, "0123456789")
	for i := 0; i < 1000; i++ {
		// Feed a frame and a half, then the rest, so the buffer always holds a partial frame.
		d.Feed(frame)
		d.Feed(frame[:7])
		require.Len(t, drain(t, d), 1)
		d.Feed(frame[7:])
		require.Len(t, drain(t, d), 1)
	}
	require.Less(t, cap(d.buf), 16*len(frame))
}
