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

// CreateFunc produces an empty host instance immediately after an
// object header has been read. The instance is registered for
// back-references before any of the payload is decoded, which is
// what makes cyclic object graphs reconstructable.
type CreateFunc func(header Variant, f Factory) interface{}

// CompleteFunc fills a host instance once the field payload has
// been decoded into the seed handed to it.
type CompleteFunc func(val interface{}, payload Variant, f Factory)

// EncodeFunc produces the seed written in place of a native value.
type EncodeFunc func(val interface{}, f Factory) Variant

// InstantiateFunc constructs an atomic host instance from a fully
// decoded payload in a single step.
type InstantiateFunc func(payload Variant, f Factory) interface{}

// ObjectType describes how instances of one host type cross the
// wire: the header that identifies them plus the create, complete
// and encode callbacks. Descriptors compare by pointer; casting a
// native variant back to its host type succeeds only against the
// exact descriptor it was created with.
type ObjectType struct {
	header      Variant
	create      CreateFunc
	complete    CompleteFunc
	encode      EncodeFunc
	instantiate InstantiateFunc
	atomic      bool
}

// NewObjectType returns a descriptor whose instances are built in
// two phases: create right after the header, complete after the
// payload. Either callback may be nil when the corresponding phase
// has nothing to do; encode may be nil for decode-only types.
func NewObjectType(header Variant, create CreateFunc, complete CompleteFunc, encode EncodeFunc) *ObjectType {
	header.check()
	if create == nil {
		create = func(Variant, Factory) interface{} { return nil }
	}
	return &ObjectType{
		header:   header,
		create:   create,
		complete: complete,
		encode:   encode,
	}
}

// NewAtomicObjectType returns a descriptor whose instances are
// constructed in a single step after the payload has been read.
// Atomic types cannot contain references to themselves or appear in
// cycles.
func NewAtomicObjectType(header Variant, instantiate InstantiateFunc, encode EncodeFunc) *ObjectType {
	header.check()
	return &ObjectType{
		header:      header,
		instantiate: instantiate,
		encode:      encode,
		atomic:      true,
	}
}

// Header returns the header value that identifies instances of this
// type on the wire.
func (t *ObjectType) Header() Variant { return t.header }

// VariantMap maps variants to values of any type. Unlike a variant
// map value it is a host-side container: string keys live in a
// dedicated map for constant-time lookup and every other key shape
// falls back to a linear scan over a pair list. Pointers returned
// by Get are invalidated by any subsequent mutation.
type VariantMap[T any] struct {
	strings map[string]*T
	generic []genericMapping[T]
}

type genericMapping[T any] struct {
	key   Variant
	value T
}

// Set maps key to value, replacing an earlier mapping for an equal
// key. The map does not take ownership of the key; it must stay
// valid as long as the map does.
func (m *VariantMap[T]) Set(key Variant, value T) {
	key.check()
	if key.Type() == StringType {
		if m.strings == nil {
			m.strings = make(map[string]*T)
		}
		m.strings[key.StringValue()] = &value
		return
	}
	for i := range m.generic {
		if m.generic[i].key.Equal(key) {
			m.generic[i].value = value
			return
		}
	}
	m.generic = append(m.generic, genericMapping[T]{key: key, value: value})
}

// Get returns a pointer to the binding for key, or nil if there is
// none.
func (m *VariantMap[T]) Get(key Variant) *T {
	key.check()
	if key.Type() == StringType {
		return m.strings[key.StringValue()]
	}
	for i := range m.generic {
		if m.generic[i].key.Equal(key) {
			return &m.generic[i].value
		}
	}
	return nil
}

// TypeRegistry resolves object types during decoding based on the
// objects' headers. Registration is additive and the last
// registration for a header wins.
type TypeRegistry struct {
	types VariantMap[*ObjectType]
}

// Register adds typ as the mapping for its header.
func (r *TypeRegistry) Register(typ *ObjectType) {
	r.types.Set(typ.Header(), typ)
}

// Resolve returns the type registered for the given header, or nil
// if none is known.
func (r *TypeRegistry) Resolve(header Variant) *ObjectType {
	if t := r.types.Get(header); t != nil {
		return *t
	}
	return nil
}
