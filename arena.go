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

// Factory is the value-construction interface implemented by arenas
// and handed out by sinks through Sink.Factory. Marshalling callbacks receive a Factory rather than a
// concrete arena so that values can be built against whatever scope
// the caller supplies.
type Factory interface {
	// NewArray returns a new mutable array.
	NewArray() Variant
	// NewArrayWithCapacity returns a new mutable array with room
	// preallocated for n elements.
	NewArrayWithCapacity(n int) Variant
	// NewMap returns a new mutable map.
	NewMap() Variant
	// NewSeed returns a new mutable seed with a null header.
	NewSeed() Variant
	// NewString returns a frozen string owned by the factory's
	// arena; s may be discarded after the call.
	NewString(s string) Variant
	// NewStringWithEncoding returns a frozen string with an
	// explicit encoding tag, copying b.
	NewStringWithEncoding(b []byte, enc Variant) Variant
	// NewMutableString returns an all-zero string of n bytes whose
	// backing array can be written through MutableBytes until the
	// string is frozen.
	NewMutableString(n int) Variant
	// NewBlob returns a frozen blob owned by the factory's arena,
	// copying b.
	NewBlob(b []byte) Variant
	// NewMutableBlob returns an all-zero blob of n bytes, mutable
	// until frozen.
	NewMutableBlob(n int) Variant
	// NewNative wraps a host object and its descriptor.
	NewNative(val interface{}, typ *ObjectType) Variant
	// NewSink returns a fresh write-once cell.
	NewSink() *Sink
	// OnDispose registers a teardown callback run when the arena
	// is disposed. Callbacks run in LIFO order.
	OnDispose(fn func())
}

type entry struct {
	key, value Variant
}

type arrayVal struct {
	elems  []Variant
	frozen bool
}

type mapVal struct {
	entries []entry
	frozen  bool
}

type seedVal struct {
	header Variant
	fields []entry
	frozen bool
}

type stringVal struct {
	data   []byte
	enc    Variant
	frozen bool
}

type blobVal struct {
	data   []byte
	frozen bool
}

type nativeVal struct {
	val interface{}
	typ *ObjectType
}

// Arena is an allocation scope owning every non-inline variant
// payload created through it and every destructor registered with
// it. Arenas are not safe for concurrent use; use one arena per
// logical build or parse operation.
type Arena struct {
	arrays  []*arrayVal
	maps    []*mapVal
	seeds   []*seedVal
	strs    []*stringVal
	blobs   []*blobVal
	natives []*nativeVal
	sinks   []*sinkCell
	dtors   []func()
}

// NewArena returns a new empty arena.
func NewArena() *Arena { return &Arena{} }

// Dispose runs the registered destructors in LIFO order and drops
// every value allocated in this arena. Variants belonging to the
// arena must not be used afterwards.
func (a *Arena) Dispose() {
	for i := len(a.dtors) - 1; i >= 0; i-- {
		a.dtors[i]()
	}
	*a = Arena{}
}

func (a *Arena) variant(k Kind, index int) Variant {
	return Variant{kind: k, version: binaryVersion, arena: a, index: uint32(index)}
}

// NewArray returns a new mutable array.
func (a *Arena) NewArray() Variant {
	a.arrays = append(a.arrays, &arrayVal{})
	return a.variant(ArrayType, len(a.arrays)-1)
}

// NewArrayWithCapacity returns a new mutable array with room
// preallocated for n elements.
func (a *Arena) NewArrayWithCapacity(n int) Variant {
	a.arrays = append(a.arrays, &arrayVal{elems: make([]Variant, 0, n)})
	return a.variant(ArrayType, len(a.arrays)-1)
}

// NewMap returns a new mutable map.
func (a *Arena) NewMap() Variant {
	a.maps = append(a.maps, &mapVal{})
	return a.variant(MapType, len(a.maps)-1)
}

// NewSeed returns a new mutable seed with a null header.
func (a *Arena) NewSeed() Variant {
	a.seeds = append(a.seeds, &seedVal{})
	return a.variant(SeedType, len(a.seeds)-1)
}

// NewString returns a frozen arena-owned string with the default
// encoding; s may be discarded after the call.
func (a *Arena) NewString(s string) Variant {
	return a.newString([]byte(s), DefaultStringEncoding(), true)
}

// NewStringWithEncoding returns a frozen arena-owned string with an
// explicit encoding tag, copying b.
func (a *Arena) NewStringWithEncoding(b []byte, enc Variant) Variant {
	enc.check()
	cp := make([]byte, len(b))
	copy(cp, b)
	return a.newString(cp, enc, true)
}

// NewMutableString returns an all-zero string of n bytes with the
// default encoding, writable through MutableBytes until frozen.
func (a *Arena) NewMutableString(n int) Variant {
	return a.newString(make([]byte, n), DefaultStringEncoding(), false)
}

func (a *Arena) newString(data []byte, enc Variant, frozen bool) Variant {
	a.strs = append(a.strs, &stringVal{data: data, enc: enc, frozen: frozen})
	return a.variant(StringType, len(a.strs)-1)
}

// NewBlob returns a frozen arena-owned blob, copying b.
func (a *Arena) NewBlob(b []byte) Variant {
	cp := make([]byte, len(b))
	copy(cp, b)
	a.blobs = append(a.blobs, &blobVal{data: cp, frozen: true})
	return a.variant(BlobType, len(a.blobs)-1)
}

// NewMutableBlob returns an all-zero blob of n bytes, writable
// through MutableBytes until frozen.
func (a *Arena) NewMutableBlob(n int) Variant {
	a.blobs = append(a.blobs, &blobVal{data: make([]byte, n)})
	return a.variant(BlobType, len(a.blobs)-1)
}

// NewNative wraps a host object and its descriptor as a native
// variant.
func (a *Arena) NewNative(val interface{}, typ *ObjectType) Variant {
	a.natives = append(a.natives, &nativeVal{val: val, typ: typ})
	return a.variant(NativeType, len(a.natives)-1)
}

// NewSink returns a fresh standalone write-once cell bound to this
// arena.
func (a *Arena) NewSink() *Sink {
	return a.newSink(sinkDest{})
}

func (a *Arena) newSink(dest sinkDest) *Sink {
	a.sinks = append(a.sinks, &sinkCell{dest: dest})
	return &Sink{arena: a, index: uint32(len(a.sinks) - 1)}
}

// OnDispose registers a teardown callback run at Dispose in LIFO
// order. Host objects that need teardown when the arena collapses
// register themselves here, typically from an ObjectType create
// callback.
func (a *Arena) OnDispose(fn func()) {
	a.dtors = append(a.dtors, fn)
}
