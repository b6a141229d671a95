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

// Package compr compresses and decompresses plankton message
// frames. A compressed frame is self-describing: a biased-varint
// raw length followed by the compressed bytes, so the receiving
// side can size its output buffer before touching the compressed
// data.
package compr

import (
	"fmt"
	"runtime"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// maxFrameSize bounds the raw length a frame may declare. A frame
// header is attacker-controlled input on a socket, so the declared
// length cannot be trusted to size an allocation unchecked.
const maxFrameSize = 1 << 30

// Packer compresses whole message frames.
type Packer interface {
	// Name is the name of the compression algorithm. It is what
	// travels in the SET_COMPRESSION instruction, so the peer's
	// Unpacker lookup must recognize it.
	Name() string
	// Pack appends a compressed frame holding src to dst and
	// returns the result: the raw length of src as a biased
	// varint, then the compressed bytes.
	Pack(src, dst []byte) []byte
}

// Unpacker decompresses whole message frames.
type Unpacker interface {
	// Name is the name of the compression algorithm.
	// See also Packer.Name.
	Name() string
	// Unpack decodes a frame produced by the matching Pack. It
	// must be safe to call Unpack simultaneously from different
	// goroutines.
	Unpack(frame []byte) ([]byte, error)
}

// appendUvarint mirrors the plankton wire varint; compr cannot
// import the root package without creating a cycle.
func appendUvarint(dst []byte, u uint64) []byte {
	for u >= 0x80 {
		dst = append(dst, byte(u&0x7f)|0x80)
		u = (u >> 7) - 1
	}
	return append(dst, byte(u))
}

func readUvarint(b []byte) (uint64, int) {
	if len(b) == 0 {
		return 0, 0
	}
	next := b[0]
	result := uint64(next & 0x7f)
	n := 1
	shift := uint(7)
	for next >= 0x80 {
		if n >= len(b) {
			return 0, 0
		}
		next = b[n]
		n++
		result += (uint64(next&0x7f) + 1) << shift
		shift += 7
	}
	return result, n
}

// splitFrame validates a frame header and returns the declared raw
// length plus the compressed remainder.
func splitFrame(frame []byte) (int, []byte, error) {
	rawLen, n := readUvarint(frame)
	if n == 0 {
		return 0, nil, fmt.Errorf("compr: truncated frame header")
	}
	if rawLen > maxFrameSize {
		return 0, nil, fmt.Errorf("compr: frame declares %d raw bytes", rawLen)
	}
	return int(rawLen), frame[n:], nil
}

// checkRaw verifies that a decoder produced exactly the declared
// raw length into the buffer it was handed.
func checkRaw(name string, dst, got []byte) ([]byte, error) {
	if len(got) != len(dst) {
		return nil, fmt.Errorf("compr: %s frame declared %d raw bytes, decoded %d", name, len(dst), len(got))
	}
	if len(got) != 0 && &got[0] != &dst[0] {
		return nil, fmt.Errorf("compr: %s decoder reallocated its output", name)
	}
	return dst, nil
}

type zstdPacker struct {
	enc *zstd.Encoder
}

func (z zstdPacker) Name() string { return "zstd" }

func (z zstdPacker) Pack(src, dst []byte) []byte {
	dst = appendUvarint(dst, uint64(len(src)))
	return z.enc.EncodeAll(src, dst)
}

var zstdDecoder *zstd.Decoder

func init() {
	// one shared decoder; DecodeAll on it is goroutine-safe
	z, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		panic(err)
	}
	zstdDecoder = z
}

type zstdUnpacker struct{}

func (zstdUnpacker) Name() string { return "zstd" }

func (zstdUnpacker) Unpack(frame []byte) ([]byte, error) {
	rawLen, packed, err := splitFrame(frame)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, rawLen)
	got, err := zstdDecoder.DecodeAll(packed, dst[:0:rawLen])
	if err != nil {
		return nil, err
	}
	return checkRaw("zstd", dst, got)
}

type s2Packer struct{}

func (s2Packer) Name() string { return "s2" }

func (s2Packer) Pack(src, dst []byte) []byte {
	dst = appendUvarint(dst, uint64(len(src)))
	return append(dst, s2.Encode(nil, src)...)
}

type s2Unpacker struct{}

func (s2Unpacker) Name() string { return "s2" }

func (s2Unpacker) Unpack(frame []byte) ([]byte, error) {
	rawLen, packed, err := splitFrame(frame)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, rawLen)
	got, err := s2.Decode(dst[:0:rawLen], packed)
	if err != nil {
		return nil, err
	}
	return checkRaw("s2", dst, got)
}

// Compression selects a frame packer by name. The returned Packer
// returns the same value for Packer.Name as the specified name.
func Compression(name string) Packer {
	switch name {
	case "zstd":
		z, _ := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		return zstdPacker{z}
	case "s2":
		return s2Packer{}
	default:
		return nil
	}
}

// Decompression selects a frame unpacker by name.
func Decompression(name string) Unpacker {
	switch name {
	case "zstd":
		return zstdUnpacker{}
	case "s2":
		return s2Unpacker{}
	default:
		return nil
	}
}
