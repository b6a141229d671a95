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

import (
	"fmt"
)

// Opcode is a binary plankton instruction tag. The byte values are
// fixed for this implementation; the format leaves the assignment
// to the implementation but requires it to be deterministic.
type Opcode byte

const (
	OpInt64              Opcode = 0x01
	OpID                 Opcode = 0x02
	OpDefaultString      Opcode = 0x03
	OpStringWithEncoding Opcode = 0x04
	OpBlob               Opcode = 0x05
	OpArray              Opcode = 0x06
	OpMap                Opcode = 0x07
	OpObject             Opcode = 0x08
	OpNull               Opcode = 0x09
	OpTrue               Opcode = 0x0a
	OpFalse              Opcode = 0x0b
	OpReference          Opcode = 0x0c
)

func (op Opcode) String() string {
	switch op {
	case OpInt64:
		return "int64"
	case OpID:
		return "id"
	case OpDefaultString:
		return "default_string"
	case OpStringWithEncoding:
		return "string_with_encoding"
	case OpBlob:
		return "blob"
	case OpArray:
		return "begin_array"
	case OpMap:
		return "begin_map"
	case OpObject:
		return "begin_object"
	case OpNull:
		return "null"
	case OpTrue:
		return "true"
	case OpFalse:
		return "false"
	case OpReference:
		return "reference"
	default:
		return fmt.Sprintf("opcode(0x%02x)", byte(op))
	}
}

// Assembler accumulates a binary plankton opcode stream. It is the
// low-level interface to the binary codec; BinaryWriter drives one
// to encode whole variants, and producers with out-of-band
// knowledge of their data can drive one directly.
type Assembler struct {
	buf []byte
}

// BeginArray writes an array header for an array of n elements,
// which must be emitted immediately after.
func (a *Assembler) BeginArray(n uint64) {
	a.buf = append(a.buf, byte(OpArray))
	a.buf = AppendUvarint(a.buf, n)
}

// BeginMap writes a map header for a map of n mappings, which must
// follow as alternating keys and values.
func (a *Assembler) BeginMap(n uint64) {
	a.buf = append(a.buf, byte(OpMap))
	a.buf = AppendUvarint(a.buf, n)
}

// BeginObject writes an object header for an object with n fields.
// The header value must follow, then the fields as alternating keys
// and values.
func (a *Assembler) BeginObject(n uint64) {
	a.buf = append(a.buf, byte(OpObject))
	a.buf = AppendUvarint(a.buf, n)
}

// EmitNull writes the null value.
func (a *Assembler) EmitNull() {
	a.buf = append(a.buf, byte(OpNull))
}

// EmitBool writes a boolean value.
func (a *Assembler) EmitBool(v bool) {
	if v {
		a.buf = append(a.buf, byte(OpTrue))
	} else {
		a.buf = append(a.buf, byte(OpFalse))
	}
}

// EmitInt64 writes an integer value.
func (a *Assembler) EmitInt64(v int64) {
	a.buf = append(a.buf, byte(OpInt64))
	a.buf = appendVarint(a.buf, v)
}

// EmitID writes an identity token of the given bit width.
func (a *Assembler) EmitID(bits uint32, value uint64) {
	a.buf = append(a.buf, byte(OpID))
	a.buf = AppendUvarint(a.buf, uint64(bits))
	a.buf = AppendUvarint(a.buf, value)
}

// EmitDefaultString writes a string in the default (UTF-8)
// encoding.
func (a *Assembler) EmitDefaultString(b []byte) {
	a.buf = append(a.buf, byte(OpDefaultString))
	a.buf = AppendUvarint(a.buf, uint64(len(b)))
	a.buf = append(a.buf, b...)
}

// EmitStringWithEncoding writes a string with an explicit charset
// tag.
func (a *Assembler) EmitStringWithEncoding(enc uint64, b []byte) {
	a.buf = append(a.buf, byte(OpStringWithEncoding))
	a.buf = AppendUvarint(a.buf, enc)
	a.buf = AppendUvarint(a.buf, uint64(len(b)))
	a.buf = append(a.buf, b...)
}

// EmitBlob writes a binary blob.
func (a *Assembler) EmitBlob(b []byte) {
	a.buf = append(a.buf, byte(OpBlob))
	a.buf = AppendUvarint(a.buf, uint64(len(b)))
	a.buf = append(a.buf, b...)
}

// EmitReference writes a back-reference to the referenceable value
// that was assigned the given offset.
func (a *Assembler) EmitReference(offset uint64) {
	a.buf = append(a.buf, byte(OpReference))
	a.buf = AppendUvarint(a.buf, offset)
}

// PeekCode returns the code written so far. The result is still
// owned by the assembler and is invalidated by any further
// emission; callers that need to keep it should copy it away.
func (a *Assembler) PeekCode() []byte { return a.buf }

// Flush returns the accumulated code and resets the assembler.
func (a *Assembler) Flush() []byte {
	b := a.buf
	a.buf = nil
	return b
}

// Instr describes one decoded binary plankton instruction.
// Which payload fields are meaningful depends on Op: Count for
// array/map/object headers, Int for int64, Bits and ID for ids,
// Encoding and Bytes for strings, Bytes for blobs, Offset for
// references.
type Instr struct {
	Op   Opcode
	Size int // bytes consumed, including the tag

	Int      int64
	Count    uint64
	Bits     uint32
	ID       uint64
	Encoding uint64
	Bytes    []byte // aliases the input buffer
	Offset   uint64
}

// DecodeNextInstruction decodes the instruction at the front of
// code. It is the primitive that disassemblers are built from; the
// binary reader proper uses it too.
func DecodeNextInstruction(code []byte) (Instr, error) {
	if len(code) == 0 {
		return Instr{}, ErrTruncated
	}
	in := Instr{Op: Opcode(code[0])}
	rest := code[1:]
	uvarint := func() (uint64, bool) {
		u, n := ReadUvarint(rest)
		if n == 0 {
			return 0, false
		}
		rest = rest[n:]
		return u, true
	}
	payload := func(n uint64) bool {
		if n > uint64(len(rest)) {
			return false
		}
		in.Bytes = rest[:n:n]
		rest = rest[n:]
		return true
	}
	switch in.Op {
	case OpNull, OpTrue, OpFalse:
		// no payload
	case OpInt64:
		u, ok := uvarint()
		if !ok {
			return Instr{}, ErrTruncated
		}
		in.Int = unzigzag(u)
	case OpID:
		bits, ok := uvarint()
		if !ok {
			return Instr{}, ErrTruncated
		}
		value, ok := uvarint()
		if !ok {
			return Instr{}, ErrTruncated
		}
		in.Bits = uint32(bits)
		in.ID = value
	case OpDefaultString, OpBlob:
		n, ok := uvarint()
		if !ok {
			return Instr{}, ErrTruncated
		}
		if !payload(n) {
			return Instr{}, ErrTruncated
		}
	case OpStringWithEncoding:
		enc, ok := uvarint()
		if !ok {
			return Instr{}, ErrTruncated
		}
		n, ok := uvarint()
		if !ok {
			return Instr{}, ErrTruncated
		}
		if !payload(n) {
			return Instr{}, ErrTruncated
		}
		in.Encoding = enc
	case OpArray, OpMap, OpObject:
		n, ok := uvarint()
		if !ok {
			return Instr{}, ErrTruncated
		}
		in.Count = n
	case OpReference:
		off, ok := uvarint()
		if !ok {
			return Instr{}, ErrTruncated
		}
		in.Offset = off
	default:
		return Instr{}, fmt.Errorf("%w 0x%02x", ErrBadOpcode, byte(in.Op))
	}
	in.Size = len(code) - len(rest)
	return in, nil
}
