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

// Package socket implements the plankton framed message protocol:
// value messages multiplexed onto a byte stream by opaque stream
// ids, with the values themselves carried as binary plankton.
package socket

import (
	"fmt"
	"io"
	"sync"

	"github.com/dchest/siphash"
	"github.com/google/uuid"

	"github.com/SnellerInc/plankton"
	"github.com/SnellerInc/plankton/compr"
	"github.com/SnellerInc/plankton/ints"
)

// stream instruction opcodes; a distinct opcode space from the
// binary value codec
const (
	opSetDefaultStringEncoding = 1
	opSendValue                = 2
	opSetCompression           = 3
)

// leader begins every socket byte stream. Instructions follow it,
// each zero-padded to the next 8-byte boundary.
var leader = [8]byte{'p', 't', 0xf6, 'n', 0, 0, 0, 0}

// keys for the stream-id hash; fixed, since the hash only
// partitions the demux table and never leaves the process
const (
	sipK0 = 0x706c616e6b746f6e // "plankton"
	sipK1 = 0x736f636b657431
)

// StreamID identifies a logical channel within a socket. The id is
// the binary encoding of an arbitrary variant, treated as an opaque
// byte key: equality is bytewise and hashing covers the raw bytes.
type StreamID struct {
	key string
}

// NewStreamID derives the stream id of the given variant.
func NewStreamID(v plankton.Variant) StreamID {
	var w plankton.BinaryWriter
	return StreamID{key: string(w.Write(v))}
}

// RootStreamID returns the distinguished id that is pre-bound when
// a socket is initialized: the encoding of the null variant.
func RootStreamID() StreamID {
	return NewStreamID(plankton.Null())
}

// Bytes returns the raw key.
func (id StreamID) Bytes() []byte { return []byte(id.key) }

func (id StreamID) hash() uint64 {
	return siphash.Hash(sipK0, sipK1, []byte(id.key))
}

// OutputSocket writes framed value messages to a byte stream. A
// message is written atomically under an internal lock, so any
// number of goroutines may send concurrently; their messages
// interleave at message granularity.
type OutputSocket struct {
	mu     sync.Mutex
	dst    io.Writer
	cursor int64
	comp   compr.Packer
	enc    plankton.BinaryWriter
}

// NewOutputSocket returns an output socket writing to dst.
func NewOutputSocket(dst io.Writer) *OutputSocket {
	return &OutputSocket{dst: dst}
}

// Init writes the stream leader. It must be called before any other
// instruction is sent.
func (s *OutputSocket) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(leader[:])
}

// SetDefaultStringEncoding announces the charset that default
// strings in subsequent messages are encoded in.
func (s *OutputSocket) SetDefaultStringEncoding(c plankton.Charset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := []byte{opSetDefaultStringEncoding}
	buf = plankton.AppendUvarint(buf, uint64(c))
	if err := s.write(buf); err != nil {
		return err
	}
	return s.pad()
}

// SetCompression switches subsequent message payloads to the named
// compression algorithm, which the receiving side must recognize.
func (s *OutputSocket) SetCompression(name string) error {
	comp := compr.Compression(name)
	if comp == nil {
		return fmt.Errorf("socket: unknown compression %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := []byte{opSetCompression}
	buf = appendBlob(buf, []byte(name))
	if err := s.write(buf); err != nil {
		return err
	}
	if err := s.pad(); err != nil {
		return err
	}
	s.comp = comp
	return nil
}

// SendValue sends one value on the stream identified by streamID.
// Sending to the null stream id addresses the receiver's root
// stream.
func (s *OutputSocket) SendValue(v, streamID plankton.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.enc.Write(streamID)
	payload := s.enc.Write(v)
	buf := []byte{opSendValue}
	buf = appendBlob(buf, id)
	if s.comp != nil {
		buf = appendBlob(buf, s.comp.Pack(payload, nil))
	} else {
		buf = appendBlob(buf, payload)
	}
	if err := s.write(buf); err != nil {
		return err
	}
	return s.pad()
}

// NewStreamID mints a fresh stream id variant that will not collide
// with any other minted id.
func (s *OutputSocket) NewStreamID() plankton.Variant {
	u := uuid.New()
	return plankton.Blob(u[:])
}

func appendBlob(dst, b []byte) []byte {
	dst = plankton.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

func (s *OutputSocket) write(b []byte) error {
	n, err := s.dst.Write(b)
	s.cursor += int64(n)
	return err
}

var zeros [8]byte

// pad writes zeros until the total number of bytes written is a
// multiple of 8.
func (s *OutputSocket) pad() error {
	n := ints.AlignUp(s.cursor, 8) - s.cursor
	if n == 0 {
		return nil
	}
	return s.write(zeros[:n])
}
