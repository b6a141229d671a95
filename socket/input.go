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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/SnellerInc/plankton"
	"github.com/SnellerInc/plankton/compr"
	"github.com/SnellerInc/plankton/ints"
)

// ErrNoMessage is returned by BufferInputStream.PullMessage when no
// message is queued.
var ErrNoMessage = errors.New("socket: no pending message")

// MessageData is the raw binary payload of one message delivered on
// a stream. Ownership transfers to whoever dequeues it.
type MessageData struct {
	data []byte
	enc  plankton.Charset
}

// Data returns the raw message bytes.
func (m *MessageData) Data() []byte { return m.data }

// Size returns the size in bytes of the message.
func (m *MessageData) Size() int { return len(m.data) }

// Decode decodes the message against the given arena, resolving
// object headers through reg (which may be nil).
func (m *MessageData) Decode(arena *plankton.Arena, reg *plankton.TypeRegistry) (plankton.Variant, error) {
	r := plankton.NewBinaryReader(arena)
	r.SetTypeRegistry(reg)
	r.SetDefaultStringEncoding(m.enc)
	return r.Parse(m.data)
}

// InputStream receives the messages addressed to one stream id.
type InputStream interface {
	// ReceiveBlock is called by the socket when a message with
	// this stream as its destination has been received. Ownership
	// of the message passes to the stream.
	ReceiveBlock(msg *MessageData)
}

// BufferInputStream queues messages as they come in and lets a
// consumer pull them one at a time. It requires no knowledge on the
// socket's part about the consumer, but the consumer has to keep up
// or the queue grows without bound.
type BufferInputStream struct {
	id      StreamID
	mu      sync.Mutex
	pending []*MessageData
}

// NewBufferInputStream returns an empty buffer stream with the
// given id.
func NewBufferInputStream(id StreamID) *BufferInputStream {
	return &BufferInputStream{id: id}
}

// ID returns the stream's id.
func (b *BufferInputStream) ID() StreamID { return b.id }

// ReceiveBlock queues one message.
func (b *BufferInputStream) ReceiveBlock(msg *MessageData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, msg)
}

// Pending returns the number of queued messages.
func (b *BufferInputStream) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// PullMessage dequeues the oldest pending message and decodes it,
// acquiring storage from the given arena. It returns ErrNoMessage
// when the queue is empty.
func (b *BufferInputStream) PullMessage(arena *plankton.Arena) (plankton.Variant, error) {
	return b.PullMessageTyped(arena, nil)
}

// PullMessageTyped is PullMessage with a type registry applied to
// the decode.
func (b *BufferInputStream) PullMessageTyped(arena *plankton.Arena, reg *plankton.TypeRegistry) (plankton.Variant, error) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return plankton.Null(), ErrNoMessage
	}
	msg := b.pending[0]
	b.pending = b.pending[1:]
	b.mu.Unlock()
	return msg.Decode(arena, reg)
}

type streamEntry struct {
	id     StreamID
	stream InputStream
}

// InputSocket reads framed instructions from a byte stream and
// delivers value messages to input streams keyed by stream id.
// Unknown ids are bound on demand through the stream factory, which
// defaults to NewBufferInputStream.
type InputSocket struct {
	src     *bufio.Reader
	cursor  int64
	factory func(StreamID) InputStream
	streams map[uint64][]streamEntry
	enc     plankton.Charset
	decomp  compr.Unpacker
	err     error
}

// NewInputSocket returns an input socket reading from src.
func NewInputSocket(src io.Reader) *InputSocket {
	s := &InputSocket{
		src:     bufio.NewReader(src),
		factory: func(id StreamID) InputStream { return NewBufferInputStream(id) },
		streams: make(map[uint64][]streamEntry),
		enc:     plankton.CharsetUTF8,
	}
	// the root stream is pre-bound so that senders can address it
	// before any instruction has been processed
	s.bind(RootStreamID())
	return s
}

// SetStreamFactory replaces the factory used to create streams for
// ids seen for the first time. It does not rebind existing streams,
// so call it before processing input.
func (s *InputSocket) SetStreamFactory(f func(StreamID) InputStream) {
	s.factory = f
}

// Init reads and validates the stream leader. It must be called
// once before ProcessNextInstruction.
func (s *InputSocket) Init() error {
	var buf [8]byte
	if _, err := io.ReadFull(s.src, buf[:]); err != nil {
		return fmt.Errorf("socket: reading stream leader: %w", err)
	}
	s.cursor += 8
	if !bytes.Equal(buf[:], leader[:]) {
		return fmt.Errorf("socket: bad stream leader % x", buf[:])
	}
	return nil
}

// ProcessNextInstruction reads and processes one instruction,
// either updating the socket's state or delivering a message to a
// stream. It returns false when the input is exhausted or invalid;
// Err distinguishes the two.
func (s *InputSocket) ProcessNextInstruction() bool {
	op, err := s.readByte()
	if err != nil {
		if err != io.EOF {
			s.err = err
		}
		return false
	}
	switch op {
	case opSetDefaultStringEncoding:
		c, err := s.readUvarint()
		if err != nil {
			s.err = err
			return false
		}
		s.enc = plankton.Charset(c)
	case opSetCompression:
		name, err := s.readBlob()
		if err != nil {
			s.err = err
			return false
		}
		d := compr.Decompression(string(name))
		if d == nil {
			s.err = fmt.Errorf("socket: unknown compression %q", name)
			return false
		}
		s.decomp = d
	case opSendValue:
		id, err := s.readBlob()
		if err != nil {
			s.err = err
			return false
		}
		payload, err := s.readBlob()
		if err != nil {
			s.err = err
			return false
		}
		if s.decomp != nil {
			payload, err = s.decomp.Unpack(payload)
			if err != nil {
				s.err = err
				return false
			}
		}
		stream := s.get(StreamID{key: string(id)})
		stream.ReceiveBlock(&MessageData{data: payload, enc: s.enc})
	default:
		s.err = fmt.Errorf("socket: unknown instruction 0x%02x", op)
		return false
	}
	if err := s.readPadding(); err != nil {
		s.err = err
		return false
	}
	return true
}

// Err returns the error that stopped processing, if any; a nil
// error after ProcessNextInstruction returned false means clean end
// of input.
func (s *InputSocket) Err() error { return s.err }

// RootStream returns the stream bound to the root id.
func (s *InputSocket) RootStream() InputStream {
	return s.get(RootStreamID())
}

// DefaultStringEncoding returns the charset most recently announced
// by the sender.
func (s *InputSocket) DefaultStringEncoding() plankton.Charset { return s.enc }

func (s *InputSocket) bind(id StreamID) InputStream {
	stream := s.factory(id)
	h := id.hash()
	s.streams[h] = append(s.streams[h], streamEntry{id: id, stream: stream})
	return stream
}

func (s *InputSocket) get(id StreamID) InputStream {
	for _, e := range s.streams[id.hash()] {
		if e.id.key == id.key {
			return e.stream
		}
	}
	return s.bind(id)
}

func (s *InputSocket) readByte() (byte, error) {
	b, err := s.src.ReadByte()
	if err == nil {
		s.cursor++
	}
	return b, err
}

func (s *InputSocket) readUvarint() (uint64, error) {
	next, err := s.readByte()
	if err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	result := uint64(next & 0x7f)
	shift := uint(7)
	for next >= 0x80 {
		next, err = s.readByte()
		if err != nil {
			return 0, io.ErrUnexpectedEOF
		}
		result += (uint64(next&0x7f) + 1) << shift
		shift += 7
	}
	return result, nil
}

func (s *InputSocket) readBlob() ([]byte, error) {
	n, err := s.readUvarint()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.src, buf); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	s.cursor += int64(n)
	return buf, nil
}

// readPadding consumes zeros up to the next 8-byte boundary.
func (s *InputSocket) readPadding() error {
	n := ints.AlignUp(s.cursor, 8) - s.cursor
	for ; n > 0; n-- {
		if _, err := s.readByte(); err != nil {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}
