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
	"errors"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrTruncated indicates input that ended in the middle of an
	// instruction or payload.
	ErrTruncated = errors.New("plankton: truncated input")
	// ErrBadOpcode indicates an instruction tag this
	// implementation does not assign.
	ErrBadOpcode = errors.New("plankton: unknown opcode")
	// ErrBadReference indicates a back-reference to an offset no
	// referenceable value has been assigned.
	ErrBadReference = errors.New("plankton: reference to unassigned offset")
)

// refThreshold is the byte length at and above which strings and
// blobs become referenceable. The value is part of the wire
// contract between writer and reader: both sides must agree on
// which instructions consume a reference offset.
const refThreshold = 16

type refKey struct {
	kind  Kind
	arena *Arena
	index uint32
}

// nativeKey identifies a native by its host object rather than by
// variant identity: encode callbacks mint fresh wrapper variants,
// but one host object must still claim only one offset. Host
// payloads must therefore be comparable, which they are whenever
// they are pointers.
type nativeKey struct {
	val interface{}
	typ *ObjectType
}

// BinaryWriter encodes variants as binary plankton. The reference
// offset space resets between Write calls, so each call produces a
// self-contained value.
type BinaryWriter struct {
	asm     Assembler
	refs    map[refKey]uint64
	nrefs   map[nativeKey]uint64
	fps     map[[blake2b.Size256]byte]uint64
	next    uint64
	scratch *Arena
}

// Write encodes one variant and returns the encoded bytes. The
// returned buffer is owned by the caller.
func (w *BinaryWriter) Write(v Variant) []byte {
	v.check()
	w.refs = make(map[refKey]uint64)
	w.nrefs = make(map[nativeKey]uint64)
	w.fps = make(map[[blake2b.Size256]byte]uint64)
	w.next = 0
	w.scratch = NewArena()
	w.encode(v)
	w.scratch.Dispose()
	w.scratch = nil
	return w.asm.Flush()
}

func (w *BinaryWriter) encode(v Variant) {
	switch v.Type() {
	case NullType:
		w.asm.EmitNull()
	case BoolType:
		w.asm.EmitBool(v.BoolValue())
	case IntType:
		w.asm.EmitInt64(v.Int64())
	case IDType:
		w.asm.EmitID(v.IDBits(), v.ID64())
	case StringType:
		w.encodeString(v)
	case BlobType:
		w.encodeBlob(v)
	case ArrayType:
		if w.emitRef(v) {
			return
		}
		w.claim(v)
		n := v.Len()
		w.asm.BeginArray(uint64(n))
		for i := 0; i < n; i++ {
			w.encode(v.At(i))
		}
	case MapType:
		if w.emitRef(v) {
			return
		}
		w.claim(v)
		n := v.MapSize()
		w.asm.BeginMap(uint64(n))
		for i := 0; i < n; i++ {
			k, val := v.MapAt(i)
			w.encode(k)
			w.encode(val)
		}
	case SeedType:
		if w.emitRef(v) {
			return
		}
		w.claim(v)
		w.encodeSeedBody(v)
	case NativeType:
		w.encodeNative(v)
	default:
		w.asm.EmitNull()
	}
}

func (w *BinaryWriter) encodeSeedBody(v Variant) {
	n := v.FieldCount()
	w.asm.BeginObject(uint64(n))
	w.encode(v.Header())
	for i := 0; i < n; i++ {
		k, val := v.FieldAt(i)
		w.encode(k)
		w.encode(val)
	}
}

func (w *BinaryWriter) encodeNative(v Variant) {
	typ := v.NativeType()
	if typ == nil || typ.encode == nil {
		// a native without an encoder has no wire form
		w.asm.EmitNull()
		return
	}
	key := nativeKey{val: v.NativeValue(), typ: typ}
	if off, ok := w.nrefs[key]; ok {
		w.asm.EmitReference(off)
		return
	}
	seed := typ.encode(v.NativeValue(), w.scratch)
	if seed.Type() != SeedType {
		w.asm.EmitNull()
		return
	}
	// the host object claims the offset; the replacement seed is
	// emitted in its place and never gets one of its own
	w.nrefs[key] = w.next
	w.next++
	w.encodeSeedBody(seed)
}

func (w *BinaryWriter) encodeString(v Variant) {
	b := v.stringBytes()
	enc := uint64(CharsetUTF8)
	if e := v.StringEncoding(); e.Type() == IntType {
		enc = uint64(e.Int64())
	}
	long := len(b) >= refThreshold
	if long {
		fp := fingerprint(byte(OpDefaultString), enc, b)
		if off, ok := w.fps[fp]; ok {
			w.asm.EmitReference(off)
			return
		}
		w.fps[fp] = w.next
		w.next++
	}
	if enc == uint64(CharsetUTF8) {
		w.asm.EmitDefaultString(b)
	} else {
		w.asm.EmitStringWithEncoding(enc, b)
	}
}

func (w *BinaryWriter) encodeBlob(v Variant) {
	b := v.BlobData()
	if len(b) >= refThreshold {
		fp := fingerprint(byte(OpBlob), 0, b)
		if off, ok := w.fps[fp]; ok {
			w.asm.EmitReference(off)
			return
		}
		w.fps[fp] = w.next
		w.next++
	}
	w.asm.EmitBlob(b)
}

// emitRef emits a back-reference if v already claimed an offset
// during this Write.
func (w *BinaryWriter) emitRef(v Variant) bool {
	if off, ok := w.refs[refKey{v.kind, v.arena, v.index}]; ok {
		w.asm.EmitReference(off)
		return true
	}
	return false
}

// claim assigns the next reference offset to v. Offsets are handed
// out at header-emission time, which is what lets the decoder keep
// a parallel table.
func (w *BinaryWriter) claim(v Variant) {
	w.refs[refKey{v.kind, v.arena, v.index}] = w.next
	w.next++
}

// fingerprint keys the shared-payload dedup table. Long payloads
// are fingerprinted rather than copied into map keys.
func fingerprint(tag byte, enc uint64, b []byte) [blake2b.Size256]byte {
	h, _ := blake2b.New256(nil)
	var hdr []byte
	hdr = append(hdr, tag)
	hdr = AppendUvarint(hdr, enc)
	h.Write(hdr)
	h.Write(b)
	var fp [blake2b.Size256]byte
	h.Sum(fp[:0])
	return fp
}

// BinaryReader decodes binary plankton, allocating the
// reconstructed tree in its arena. With a type registry set,
// objects whose headers resolve are materialized as native variants
// through the two-phase create/complete protocol.
type BinaryReader struct {
	arena      *Arena
	reg        *TypeRegistry
	defaultEnc Charset
	consumed   int
}

// NewBinaryReader returns a reader that allocates in arena.
func NewBinaryReader(arena *Arena) *BinaryReader {
	return &BinaryReader{arena: arena, defaultEnc: CharsetUTF8}
}

// SetTypeRegistry sets the registry consulted for object headers.
func (r *BinaryReader) SetTypeRegistry(reg *TypeRegistry) { r.reg = reg }

// SetDefaultStringEncoding sets the charset assumed for strings
// carried by DEFAULT_STRING instructions. Sockets use this to apply
// a stream-wide encoding announced out of band.
func (r *BinaryReader) SetDefaultStringEncoding(c Charset) { r.defaultEnc = c }

// Parse decodes one value from data. Trailing bytes after the value
// are not an error; callers that care can compare Consumed against
// len(data).
func (r *BinaryReader) Parse(data []byte) (Variant, error) {
	enc := r.defaultEnc
	if enc == 0 {
		enc = CharsetUTF8
	}
	d := binDecoder{data: data, arena: r.arena, reg: r.reg, defaultEnc: enc}
	v, err := d.decode()
	r.consumed = d.pos
	if err != nil {
		return Null(), err
	}
	return v, nil
}

// Consumed returns the number of bytes the last Parse call
// consumed.
func (r *BinaryReader) Consumed() int { return r.consumed }

type binDecoder struct {
	data       []byte
	pos        int
	arena      *Arena
	reg        *TypeRegistry
	defaultEnc Charset
	refs       []Variant
}

func (d *binDecoder) next() (Instr, error) {
	in, err := DecodeNextInstruction(d.data[d.pos:])
	if err != nil {
		return Instr{}, err
	}
	d.pos += in.Size
	return in, nil
}

func (d *binDecoder) decode() (Variant, error) {
	in, err := d.next()
	if err != nil {
		return Null(), err
	}
	switch in.Op {
	case OpNull:
		return Null(), nil
	case OpTrue:
		return True(), nil
	case OpFalse:
		return False(), nil
	case OpInt64:
		return Int(in.Int), nil
	case OpID:
		return ID(in.Bits, in.ID), nil
	case OpDefaultString:
		var v Variant
		if d.defaultEnc == CharsetUTF8 {
			v = d.arena.NewString(string(in.Bytes))
		} else {
			v = d.arena.NewStringWithEncoding(in.Bytes, Int(int64(d.defaultEnc)))
		}
		d.remember(len(in.Bytes), v)
		return v, nil
	case OpStringWithEncoding:
		v := d.arena.NewStringWithEncoding(in.Bytes, Int(int64(in.Encoding)))
		d.remember(len(in.Bytes), v)
		return v, nil
	case OpBlob:
		v := d.arena.NewBlob(in.Bytes)
		d.remember(len(in.Bytes), v)
		return v, nil
	case OpArray:
		return d.decodeArray(in.Count)
	case OpMap:
		return d.decodeMap(in.Count)
	case OpObject:
		return d.decodeObject(in.Count)
	case OpReference:
		if in.Offset >= uint64(len(d.refs)) {
			return Null(), ErrBadReference
		}
		return d.refs[in.Offset], nil
	default:
		return Null(), ErrBadOpcode
	}
}

// remember registers long strings and blobs in the reference table;
// short ones never claim an offset on the writer side either.
func (d *binDecoder) remember(n int, v Variant) {
	if n >= refThreshold {
		d.refs = append(d.refs, v)
	}
}

func (d *binDecoder) decodeArray(n uint64) (Variant, error) {
	result := d.arena.NewArray()
	// register before the elements so self-references resolve
	d.refs = append(d.refs, result)
	for i := uint64(0); i < n; i++ {
		elem, err := d.decode()
		if err != nil {
			return Null(), err
		}
		result.Add(elem)
	}
	result.Freeze()
	return result, nil
}

func (d *binDecoder) decodeMap(n uint64) (Variant, error) {
	result := d.arena.NewMap()
	d.refs = append(d.refs, result)
	for i := uint64(0); i < n; i++ {
		key, err := d.decode()
		if err != nil {
			return Null(), err
		}
		value, err := d.decode()
		if err != nil {
			return Null(), err
		}
		result.MapSet(key, value)
	}
	result.Freeze()
	return result, nil
}

func (d *binDecoder) decodeObject(fieldc uint64) (Variant, error) {
	// the object's offset is claimed at the opcode, before the
	// header is read
	slot := len(d.refs)
	d.refs = append(d.refs, Null())
	header, err := d.decode()
	if err != nil {
		return Null(), err
	}
	var typ *ObjectType
	if d.reg != nil {
		typ = d.reg.Resolve(header)
	}
	if typ != nil && !typ.atomic {
		native := d.arena.NewNative(typ.create(header, d.arena), typ)
		d.refs[slot] = native
		payload, err := d.decodeFields(header, fieldc)
		if err != nil {
			return Null(), err
		}
		if typ.complete != nil {
			typ.complete(native.NativeValue(), payload, d.arena)
		}
		return native, nil
	}
	if typ != nil {
		// atomic types are constructed in one step after the
		// payload; by definition they cannot appear in cycles, so
		// the late slot update is safe
		payload, err := d.decodeFields(header, fieldc)
		if err != nil {
			return Null(), err
		}
		native := d.arena.NewNative(typ.instantiate(payload, d.arena), typ)
		d.refs[slot] = native
		return native, nil
	}
	result := d.arena.NewSeed()
	d.refs[slot] = result
	result.SetHeader(header)
	for i := uint64(0); i < fieldc; i++ {
		key, err := d.decode()
		if err != nil {
			return Null(), err
		}
		value, err := d.decode()
		if err != nil {
			return Null(), err
		}
		result.SetField(key, value)
	}
	result.Freeze()
	return result, nil
}

// decodeFields reads an object payload into a scratch seed handed
// to the type's completion callback.
func (d *binDecoder) decodeFields(header Variant, fieldc uint64) (Variant, error) {
	payload := d.arena.NewSeed()
	payload.SetHeader(header)
	for i := uint64(0); i < fieldc; i++ {
		key, err := d.decode()
		if err != nil {
			return Null(), err
		}
		value, err := d.decode()
		if err != nil {
			return Null(), err
		}
		payload.SetField(key, value)
	}
	payload.Freeze()
	return payload, nil
}
