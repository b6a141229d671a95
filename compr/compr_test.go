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

package compr

import (
	"bytes"
	"strings"
	"testing"
)

func TestFrameRoundtrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte("x"),
		[]byte(strings.Repeat("the quick brown fox ", 64)),
	}
	for _, name := range []string{"zstd", "s2"} {
		p := Compression(name)
		if p == nil || p.Name() != name {
			t.Fatalf("no packer %q", name)
		}
		u := Decompression(name)
		if u == nil || u.Name() != name {
			t.Fatalf("no unpacker %q", name)
		}
		for _, src := range payloads {
			frame := p.Pack(src, nil)
			got, err := u.Unpack(frame)
			if err != nil {
				t.Fatalf("%s: %s", name, err)
			}
			if !bytes.Equal(got, src) {
				t.Fatalf("%s: roundtrip corrupted %d-byte payload", name, len(src))
			}
		}
		long := payloads[2]
		if frame := p.Pack(long, nil); len(frame) >= len(long) {
			t.Errorf("%s: %d-byte frame from %d-byte payload", name, len(frame), len(long))
		}
	}
	if Compression("lzma") != nil || Decompression("lzma") != nil {
		t.Fatal("unknown algorithm resolved")
	}
}

func TestFramePrefix(t *testing.T) {
	// frames from different packers share the header format, so
	// the declared length is readable without knowing the codec
	p := Compression("s2")
	frame := p.Pack([]byte("abcdef"), nil)
	rawLen, n := readUvarint(frame)
	if n == 0 || rawLen != 6 {
		t.Fatalf("frame header declares %d raw bytes", rawLen)
	}
	// Pack appends after whatever the caller already buffered
	prefixed := p.Pack([]byte("abcdef"), []byte{0xAA})
	if prefixed[0] != 0xAA || !bytes.Equal(prefixed[1:], frame) {
		t.Fatal("pack must append to dst")
	}
}

func TestFrameErrors(t *testing.T) {
	for _, name := range []string{"zstd", "s2"} {
		u := Decompression(name)
		if _, err := u.Unpack(nil); err == nil {
			t.Fatalf("%s: empty frame accepted", name)
		}
		// header declaring more raw bytes than the body decodes to
		p := Compression(name)
		frame := p.Pack([]byte("abc"), nil)
		lied := appendUvarint(nil, 4)
		_, n := readUvarint(frame)
		lied = append(lied, frame[n:]...)
		if _, err := u.Unpack(lied); err == nil {
			t.Fatalf("%s: wrong declared length accepted", name)
		}
		// absurd declared length must be rejected before allocating
		huge := appendUvarint(nil, 1<<40)
		if _, err := u.Unpack(append(huge, frame[n:]...)); err == nil {
			t.Fatalf("%s: oversized frame accepted", name)
		}
	}
}
