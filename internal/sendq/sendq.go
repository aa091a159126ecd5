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
Package sendq provides the ordered buffer of chunks waiting to be written to one descriptor. A chunk is written
front to back; when the descriptor accepts only part of the head chunk, the caller reports the progress with
[Queue.Advance] and the remainder stays at the head:

	q.PushBack(a)
	q.PushBack(b)
	n, _ := write(q.Front())  // short write
	q.Advance(n)              // q.Front() is now the rest of a, then b
*/
package sendq

// Queue is a FIFO of byte chunks. The zero value is an empty queue ready to use.
//
// Queue imposes no capacity limit; callers use [Queue.Size] to apply their own high-water mark. It is not safe for
// concurrent use.
type Queue struct {
	chunks [][]byte
	// Bytes of chunks[0] already consumed.
	head int
	size int
}

// PushBack appends b to the tail of the queue. The queue keeps a reference to b, so the caller must not modify it
// afterwards. Empty chunks are ignored.
func (q *Queue) PushBack(b []byte) {
	if len(b) == 0 {
		return
	}
	q.chunks = append(q.chunks, b)
	q.size += len(b)
}

// Front returns the unsent part of the head chunk, or nil if the queue is empty.
func (q *Queue) Front() []byte {
	if len(q.chunks) == 0 {
		return nil
	}
	return q.chunks[0][q.head:]
}

// Advance marks n bytes of the head chunk as sent. Once the head chunk is fully consumed it is removed, so the next
// Front returns the following chunk. Advance never crosses a chunk boundary: n larger than len(Front()) panics.
func (q *Queue) Advance(n int) {
	front := q.Front()
	if n < 0 || n > len(front) {
		panic("sendq: advance out of range")
	}
	if n == 0 {
		return
	}
	q.head += n
	q.size -= n
	if q.head == len(q.chunks[0]) {
		q.dropHead()
	}
}

// PopFront removes and returns the unsent part of the head chunk, or nil if the queue is empty.
func (q *Queue) PopFront() []byte {
	front := q.Front()
	if front == nil {
		return nil
	}
	q.size -= len(front)
	q.dropHead()
	return front
}

func (q *Queue) dropHead() {
	q.chunks[0] = nil
	q.chunks = q.chunks[1:]
	q.head = 0
	if len(q.chunks) == 0 {
		// Release the backing array that has been sliced away.
		q.chunks = nil
	}
}

// Empty reports whether there is nothing left to send.
func (q *Queue) Empty() bool {
	return len(q.chunks) == 0
}

// Len returns the number of chunks, including a partially sent head.
func (q *Queue) Len() int {
	return len(q.chunks)
}

// Size returns the number of bytes not yet sent.
func (q *Queue) Size() int {
	return q.size
}
