// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package socket

import (
	"io"
	"sync"
)

type bufferEntry struct {
	eof   bool
	value byte
}

// ByteBufferStream is a bounded in-memory byte stream connecting an
// OutputSocket to an InputSocket, usually across goroutines. Any
// number of producers and consumers may run concurrently: a counting
// semaphore of writable slots blocks full writers, one of readable
// bytes blocks empty readers, and a mutex guards the ring indices.
// Bytes from one producer are delivered in order; bytes from
// concurrent producers interleave at byte granularity, so senders
// must frame their messages atomically.
type ByteBufferStream struct {
	mu          sync.Mutex
	buf         []bufferEntry
	readCursor  int
	writeCursor int
	readable    chan struct{}
	writable    chan struct{}
}

// NewByteBufferStream returns a stream holding at most capacity
// entries.
func NewByteBufferStream(capacity int) *ByteBufferStream {
	s := &ByteBufferStream{
		buf:      make([]bufferEntry, capacity),
		readable: make(chan struct{}, capacity),
		writable: make(chan struct{}, capacity),
	}
	for i := 0; i < capacity; i++ {
		s.writable <- struct{}{}
	}
	return s
}

func (s *ByteBufferStream) writeEntry(e bufferEntry) {
	<-s.writable
	s.mu.Lock()
	s.buf[s.writeCursor] = e
	s.writeCursor = (s.writeCursor + 1) % len(s.buf)
	s.mu.Unlock()
	s.readable <- struct{}{}
}

// Write stores every byte of p, blocking while the ring is full.
func (s *ByteBufferStream) Write(p []byte) (int, error) {
	for _, b := range p {
		s.writeEntry(bufferEntry{value: b})
	}
	return len(p), nil
}

// Close marks the end of the stream. Readers drain the buffered
// bytes and then observe EOF; the EOF entry itself is never
// consumed, so every reader sees it.
func (s *ByteBufferStream) Close() error {
	s.writeEntry(bufferEntry{eof: true})
	return nil
}

// Read fills p with up to len(p) bytes. It blocks until at least
// one byte or EOF is available and then returns whatever is ready
// without blocking again.
func (s *ByteBufferStream) Read(p []byte) (int, error) {
	offset := 0
	for offset < len(p) {
		if offset == 0 {
			<-s.readable
		} else {
			select {
			case <-s.readable:
			default:
				return offset, nil
			}
		}
		s.mu.Lock()
		e := s.buf[s.readCursor]
		if e.eof {
			s.mu.Unlock()
			// leave the entry in place and hand the token back so
			// the next reader observes EOF too; the writable slot
			// is deliberately not released
			s.readable <- struct{}{}
			if offset == 0 {
				return 0, io.EOF
			}
			return offset, nil
		}
		p[offset] = e.value
		s.readCursor = (s.readCursor + 1) % len(s.buf)
		s.mu.Unlock()
		s.writable <- struct{}{}
		offset++
	}
	return offset, nil
}

var _ io.ReadWriteCloser = (*ByteBufferStream)(nil)
