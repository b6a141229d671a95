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

package plankton

// The wire encoding of unsigned integers is a biased varint: a
// sequence of bytes, least-significant group first, where the low 7
// bits of each byte carry payload and the top bit signals that more
// bytes follow. Unlike a plain varint, every non-first byte
// contributes its 7-bit payload plus one, which removes the
// leading-zero redundancy and gives every natural number exactly
// one encoding:
//
//	0x00           -> 0
//	0x80 0x00      -> 128   (= 2^7)
//	0x80 0x80 0x00 -> 16512 (= 2^7 + 2^14)
//
// Two bytes hold 0..16511 rather than 0..16383; a marginal density
// gain, but uniqueness is the point.

// AppendUvarint appends the biased-varint encoding of u to dst.
func AppendUvarint(dst []byte, u uint64) []byte {
	for u >= 0x80 {
		dst = append(dst, byte(u&0x7f)|0x80)
		u = (u >> 7) - 1
	}
	return append(dst, byte(u))
}

// ReadUvarint decodes a biased varint from the front of b,
// returning the value and the number of bytes consumed. A
// truncated encoding consumes 0 bytes.
func ReadUvarint(b []byte) (uint64, int) {
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

// zigzag folds a signed integer into the unsigned range so that
// values of small magnitude of either sign encode compactly.
func zigzag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

// unzigzag is the inverse of zigzag.
func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// appendVarint appends the zig-zagged biased-varint encoding of v.
func appendVarint(dst []byte, v int64) []byte {
	return AppendUvarint(dst, zigzag(v))
}

// readVarint decodes a signed integer written by appendVarint.
func readVarint(b []byte) (int64, int) {
	u, n := ReadUvarint(b)
	return unzigzag(u), n
}
