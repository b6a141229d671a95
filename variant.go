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

// Package plankton implements the plankton data-interchange format:
// a variant data model with arena-scoped allocation, a compact binary
// codec, a 7-bit text codec, and a marshalling layer that maps encoded
// values to and from host types.
package plankton

import (
	"bytes"
	"fmt"
)

// Kind is one of the plankton datatypes.
type Kind uint8

const (
	NullType Kind = iota
	BoolType
	IntType
	StringType
	BlobType
	ArrayType
	MapType
	SeedType
	IDType
	NativeType
)

func (k Kind) String() string {
	switch k {
	case NullType:
		return "null"
	case BoolType:
		return "bool"
	case IntType:
		return "int"
	case StringType:
		return "string"
	case BlobType:
		return "blob"
	case ArrayType:
		return "array"
	case MapType:
		return "map"
	case SeedType:
		return "seed"
	case IDType:
		return "id"
	case NativeType:
		return "native"
	default:
		return "invalid"
	}
}

// Charset is the opaque encoding tag carried on strings.
// The values are IANA MIBenum numbers; plankton assigns
// them no meaning beyond identity.
type Charset uint32

const (
	CharsetASCII    Charset = 3
	CharsetShiftJIS Charset = 17
	CharsetUTF8     Charset = 106
)

// binaryVersion is stamped into every variant constructed by this
// library. Any API handed a non-null variant carrying a different
// byte is looking at memory corruption or a value produced by an
// incompatible build, neither of which is recoverable.
const binaryVersion = 0xBE

// Variant is a value of the plankton data model: any of null, bool,
// integer, string, blob, array, map, seed, id, or native.
//
// A Variant comes in two physical forms. Inline variants (the ones
// returned by Null, Bool, Int, String, Blob, ID and friends) carry
// their payload by value, are always frozen, and for strings and
// blobs point at caller-owned memory. Arena variants are allocated
// through an Arena, own their payload, and containers among them are
// mutable until frozen.
//
// The zero Variant is null.
type Variant struct {
	kind    Kind
	version uint8
	bits    uint8  // id bit width
	num     uint64 // integer/bool/id payload
	ext     []byte // inline string or blob bytes (borrowed)
	arena   *Arena // owner, nil for inline variants
	index   uint32 // slab index within the owning arena
}

// Null returns the null variant. It is identical to the
// zero Variant.
func Null() Variant { return Variant{} }

// True returns the boolean true variant.
func True() Variant { return Variant{kind: BoolType, version: binaryVersion, num: 1} }

// False returns the boolean false variant.
func False() Variant { return Variant{kind: BoolType, version: binaryVersion} }

// Bool returns a boolean variant with the given value.
func Bool(v bool) Variant {
	if v {
		return True()
	}
	return False()
}

// Int returns an integer variant with the given value.
func Int(v int64) Variant {
	return Variant{kind: IntType, version: binaryVersion, num: uint64(v)}
}

// String returns an inline string variant with the default (UTF-8)
// encoding. The variant is frozen.
func String(s string) Variant {
	return StringBytes([]byte(s))
}

// StringBytes returns an inline string variant backed by b without
// copying; b must outlive every variant that points at it.
func StringBytes(b []byte) Variant {
	return Variant{kind: StringType, version: binaryVersion, ext: b, num: uint64(CharsetUTF8)}
}

// Blob returns an inline blob variant backed by b without copying;
// b must outlive every variant that points at it.
func Blob(b []byte) Variant {
	return Variant{kind: BlobType, version: binaryVersion, ext: b}
}

// ID returns an identity token of the given bit width.
func ID(bits uint32, value uint64) Variant {
	return Variant{kind: IDType, version: binaryVersion, bits: uint8(bits), num: value}
}

// ID32 returns a 32-bit identity token.
func ID32(value uint32) Variant { return ID(32, uint64(value)) }

// ID64 returns a 64-bit identity token.
func ID64(value uint64) Variant { return ID(64, value) }

// check traps variants that did not come out of a plankton
// constructor of this build.
func (v Variant) check() {
	if v.kind != NullType && v.version != binaryVersion {
		panic(fmt.Sprintf("plankton: variant version 0x%02x, want 0x%02x", v.version, binaryVersion))
	}
}

// Type returns the kind of this variant.
func (v Variant) Type() Kind { return v.kind }

// IsNull returns whether this is the null variant.
func (v Variant) IsNull() bool { return v.kind == NullType }

// BoolValue returns the value of this variant if it is a boolean
// and false otherwise. Note the difference from Truthy: this is an
// accessor for a value known to be a boolean.
func (v Variant) BoolValue() bool { return v.kind == BoolType && v.num != 0 }

// Truthy reports whether this variant is a nontrivial value, that
// is, anything but null. Conversions that yield null on failure can
// be tested with Truthy the way a pointer is tested against nil.
func (v Variant) Truthy() bool { return v.kind != NullType }

// Int64 returns the integer value of this variant if it is an
// integer, otherwise 0.
func (v Variant) Int64() int64 {
	if v.kind != IntType {
		return 0
	}
	return int64(v.num)
}

// StringLen returns the length in bytes of this string, or 0 if
// this is not a string.
func (v Variant) StringLen() int { return len(v.stringBytes()) }

// StringValue returns the contents of this string, or "" if this
// is not a string.
func (v Variant) StringValue() string { return string(v.stringBytes()) }

// StringData returns the backing bytes of this string, or nil if
// this is not a string. The result must not be modified.
func (v Variant) StringData() []byte { return v.stringBytes() }

func (v Variant) stringBytes() []byte {
	if v.kind != StringType {
		return nil
	}
	if v.arena == nil {
		return v.ext
	}
	return v.arena.strs[v.index].data
}

// StringEncoding returns the encoding tag of this string, or the
// null variant if this is not a string.
func (v Variant) StringEncoding() Variant {
	if v.kind != StringType {
		return Null()
	}
	if v.arena == nil {
		return Int(int64(v.num))
	}
	return v.arena.strs[v.index].enc
}

// DefaultStringEncoding returns the encoding assumed for strings
// that do not carry an explicit tag.
func DefaultStringEncoding() Variant { return Int(int64(CharsetUTF8)) }

// BlobSize returns the size in bytes of this blob, or 0 if this is
// not a blob.
func (v Variant) BlobSize() int { return len(v.BlobData()) }

// BlobData returns the contents of this blob, or nil if this is not
// a blob. The result must not be modified.
func (v Variant) BlobData() []byte {
	if v.kind != BlobType {
		return nil
	}
	if v.arena == nil {
		return v.ext
	}
	return v.arena.blobs[v.index].data
}

// MutableBytes returns the mutable backing bytes of an unfrozen
// arena string or blob, or nil for every other variant.
func (v Variant) MutableBytes() []byte {
	if v.arena == nil {
		return nil
	}
	switch v.kind {
	case StringType:
		if s := v.arena.strs[v.index]; !s.frozen {
			return s.data
		}
	case BlobType:
		if b := v.arena.blobs[v.index]; !b.frozen {
			return b.data
		}
	}
	return nil
}

// Len returns the length of this array, or 0 if this is not an
// array.
func (v Variant) Len() int {
	if a := v.arr(); a != nil {
		return len(a.elems)
	}
	return 0
}

// At returns the i'th element of this array, or null if this is not
// an array or i is out of range.
func (v Variant) At(i int) Variant {
	if a := v.arr(); a != nil && 0 <= i && i < len(a.elems) {
		return a.elems[i]
	}
	return Null()
}

// Add appends a value to this array. Adding fails, returning false,
// if this is not an array or the array has been frozen.
func (v Variant) Add(elem Variant) bool {
	elem.check()
	a := v.arr()
	if a == nil || a.frozen {
		return false
	}
	a.elems = append(a.elems, elem)
	return true
}

// AddSink appends an initially-null element to this array and
// returns a sink that sets it. Returns nil if this is not a mutable
// array.
func (v Variant) AddSink() *Sink {
	a := v.arr()
	if a == nil || a.frozen {
		return nil
	}
	slot := uint32(len(a.elems))
	a.elems = append(a.elems, Null())
	return v.arena.newSink(sinkDest{container: v, slot: slot})
}

// MapSize returns the number of mappings in this map, or 0 if this
// is not a map.
func (v Variant) MapSize() int {
	if m := v.mp(); m != nil {
		return len(m.entries)
	}
	return 0
}

// MapSet adds a mapping to this map. Setting fails, returning
// false, if this is not a map or the map has been frozen. Keys need
// not be unique; lookup returns the first match.
func (v Variant) MapSet(key, value Variant) bool {
	key.check()
	value.check()
	m := v.mp()
	if m == nil || m.frozen {
		return false
	}
	m.entries = append(m.entries, entry{key, value})
	return true
}

// MapSetSinks adds an open mapping whose key and value are set
// later through the returned sinks. Returns nils if this is not a
// mutable map.
func (v Variant) MapSetSinks() (key, value *Sink) {
	m := v.mp()
	if m == nil || m.frozen {
		return nil, nil
	}
	slot := uint32(len(m.entries))
	m.entries = append(m.entries, entry{})
	return v.arena.newSink(sinkDest{container: v, slot: slot, key: true}),
		v.arena.newSink(sinkDest{container: v, slot: slot})
}

// MapGet returns the value of the first mapping whose key equals
// the given key, or null if there is none or this is not a map.
func (v Variant) MapGet(key Variant) Variant {
	key.check()
	m := v.mp()
	if m == nil {
		return Null()
	}
	for i := range m.entries {
		if m.entries[i].key.Equal(key) {
			return m.entries[i].value
		}
	}
	return Null()
}

// MapAt returns the i'th mapping in insertion order, or nulls if
// this is not a map or i is out of range.
func (v Variant) MapAt(i int) (key, value Variant) {
	if m := v.mp(); m != nil && 0 <= i && i < len(m.entries) {
		return m.entries[i].key, m.entries[i].value
	}
	return Null(), Null()
}

// Header returns the header of this seed, or null if this is not a
// seed.
func (v Variant) Header() Variant {
	if s := v.seed(); s != nil {
		return s.header
	}
	return Null()
}

// SetHeader sets the header of this seed. Setting fails, returning
// false, if this is not a seed or the seed has been frozen.
func (v Variant) SetHeader(header Variant) bool {
	header.check()
	s := v.seed()
	if s == nil || s.frozen {
		return false
	}
	s.header = header
	return true
}

// SetField sets the value of a seed field. Setting fails, returning
// false, if this is not a seed or the seed has been frozen.
func (v Variant) SetField(key, value Variant) bool {
	key.check()
	value.check()
	s := v.seed()
	if s == nil || s.frozen {
		return false
	}
	for i := range s.fields {
		if s.fields[i].key.Equal(key) {
			s.fields[i].value = value
			return true
		}
	}
	s.fields = append(s.fields, entry{key, value})
	return true
}

// Field returns the value of the seed field with the given key, or
// null if there is none or this is not a seed.
func (v Variant) Field(key Variant) Variant {
	key.check()
	if s := v.seed(); s != nil {
		for i := range s.fields {
			if s.fields[i].key.Equal(key) {
				return s.fields[i].value
			}
		}
	}
	return Null()
}

// FieldCount returns the number of fields of this seed, or 0 if
// this is not a seed.
func (v Variant) FieldCount() int {
	if s := v.seed(); s != nil {
		return len(s.fields)
	}
	return 0
}

// FieldAt returns the i'th seed field in insertion order, or nulls
// if this is not a seed or i is out of range.
func (v Variant) FieldAt(i int) (key, value Variant) {
	if s := v.seed(); s != nil && 0 <= i && i < len(s.fields) {
		return s.fields[i].key, s.fields[i].value
	}
	return Null(), Null()
}

// IDBits returns the bit width of this identity token, or 0 if this
// is not an id.
func (v Variant) IDBits() uint32 {
	if v.kind != IDType {
		return 0
	}
	return uint32(v.bits)
}

// ID64 returns the value of this identity token, or 0 if this is
// not an id of at most 64 bits.
func (v Variant) ID64() uint64 {
	if v.kind != IDType {
		return 0
	}
	return v.num
}

// NativeValue returns the host object wrapped by this native
// variant, or nil if this is not a native.
func (v Variant) NativeValue() interface{} {
	if n := v.native(); n != nil {
		return n.val
	}
	return nil
}

// NativeType returns the object-type descriptor of this native
// variant, or nil if this is not a native.
func (v Variant) NativeType() *ObjectType {
	if n := v.native(); n != nil {
		return n.typ
	}
	return nil
}

// NativeAs returns the wrapped host object iff this is a native
// variant whose descriptor is exactly typ; the descriptor pointer
// is the discriminator, there is no other runtime type test.
func (v Variant) NativeAs(typ *ObjectType) interface{} {
	if n := v.native(); n != nil && n.typ == typ {
		return n.val
	}
	return nil
}

// IsFrozen returns whether this value is locally immutable. A
// frozen container may still change indirectly through mutable
// children.
func (v Variant) IsFrozen() bool {
	if v.arena == nil {
		return true
	}
	switch v.kind {
	case ArrayType:
		return v.arena.arrays[v.index].frozen
	case MapType:
		return v.arena.maps[v.index].frozen
	case SeedType:
		return v.arena.seeds[v.index].frozen
	case StringType:
		return v.arena.strs[v.index].frozen
	case BlobType:
		return v.arena.blobs[v.index].frozen
	default:
		return true
	}
}

// Freeze renders this value locally immutable. Freezing is shallow,
// idempotent, and cannot be undone.
func (v Variant) Freeze() {
	v.check()
	if v.arena == nil {
		return
	}
	switch v.kind {
	case ArrayType:
		v.arena.arrays[v.index].frozen = true
	case MapType:
		v.arena.maps[v.index].frozen = true
	case SeedType:
		v.arena.seeds[v.index].frozen = true
	case StringType:
		v.arena.strs[v.index].frozen = true
	case BlobType:
		v.arena.blobs[v.index].frozen = true
	}
}

// Equal returns whether v and o are identical. Scalars, strings and
// blobs compare by content; arrays, maps, seeds and natives are
// identical only to themselves, so two separately built arrays with
// equal contents are not equal.
func (v Variant) Equal(o Variant) bool {
	v.check()
	o.check()
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case NullType:
		return true
	case BoolType, IntType:
		return v.num == o.num
	case IDType:
		return v.bits == o.bits && v.num == o.num
	case StringType:
		return bytes.Equal(v.stringBytes(), o.stringBytes()) &&
			v.StringEncoding().encEqual(o.StringEncoding())
	case BlobType:
		return bytes.Equal(v.BlobData(), o.BlobData())
	default:
		return v.arena == o.arena && v.index == o.index
	}
}

// encEqual compares encoding tags without re-entering Equal.
func (v Variant) encEqual(o Variant) bool {
	return v.kind == o.kind && v.num == o.num
}

func (v Variant) arr() *arrayVal {
	if v.kind == ArrayType && v.arena != nil {
		return v.arena.arrays[v.index]
	}
	return nil
}

func (v Variant) mp() *mapVal {
	if v.kind == MapType && v.arena != nil {
		return v.arena.maps[v.index]
	}
	return nil
}

func (v Variant) seed() *seedVal {
	if v.kind == SeedType && v.arena != nil {
		return v.arena.seeds[v.index]
	}
	return nil
}

func (v Variant) native() *nativeVal {
	if v.kind == NativeType && v.arena != nil {
		return v.arena.natives[v.index]
	}
	return nil
}
