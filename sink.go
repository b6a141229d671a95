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

// sinkDest records where an assigned sink value is written through:
// an array element, a map entry key or value, the parent sink (for
// nested sinks), or (for standalone sinks) nowhere beyond the cell
// itself.
type sinkDest struct {
	container Variant
	slot      uint32
	key       bool
	chain     *Sink
}

type sinkCell struct {
	set  bool
	val  Variant
	dest sinkDest
}

// Sink is a write-once cell bound to an arena. A producer can hand
// out a sink as a slot for a value it does not know yet; the first
// assignment wins and every later one fails silently.
type Sink struct {
	arena *Arena
	index uint32
}

func (s *Sink) cell() *sinkCell { return s.arena.sinks[s.index] }

// IsSet returns whether this sink has been assigned.
func (s *Sink) IsSet() bool { return s.cell().set }

// Value returns the assigned value, or null while the sink is
// empty.
func (s *Sink) Value() Variant { return s.cell().val }

// Set assigns the value of this sink if it has not been assigned
// yet and returns whether the assignment took place. The first
// value stays in place no matter how often Set is called again.
func (s *Sink) Set(v Variant) bool {
	v.check()
	c := s.cell()
	if c.set {
		return false
	}
	c.set = true
	c.val = v
	c.dest.deliver(s.arena, v)
	return true
}

func (d sinkDest) deliver(a *Arena, v Variant) {
	if d.chain != nil {
		d.chain.Set(v)
		return
	}
	switch d.container.kind {
	case ArrayType:
		// the slot was reserved before any freeze, so write the
		// slab directly
		a.arrays[d.container.index].elems[d.slot] = v
	case MapType:
		e := &a.maps[d.container.index].entries[d.slot]
		if d.key {
			e.key = v
		} else {
			e.value = v
		}
	}
}

// AsArray allocates a new mutable array, assigns it to this sink if
// it is still empty, and returns it. If the sink was already
// assigned, the stored value is returned instead.
func (s *Sink) AsArray() Variant {
	if c := s.cell(); c.set {
		return c.val
	}
	v := s.arena.NewArray()
	s.Set(v)
	return v
}

// AsMap is AsArray for maps.
func (s *Sink) AsMap() Variant {
	if c := s.cell(); c.set {
		return c.val
	}
	v := s.arena.NewMap()
	s.Set(v)
	return v
}

// AsSeed is AsArray for seeds.
func (s *Sink) AsSeed() Variant {
	if c := s.cell(); c.set {
		return c.val
	}
	v := s.arena.NewSeed()
	s.Set(v)
	return v
}

// AsBlob allocates a mutable blob of n bytes, assigns it to this
// sink if it is still empty, and returns it.
func (s *Sink) AsBlob(n int) Variant {
	if c := s.cell(); c.set {
		return c.val
	}
	v := s.arena.NewMutableBlob(n)
	s.Set(v)
	return v
}

// SetString assigns a fresh arena string if the sink is still
// empty.
func (s *Sink) SetString(str string) bool {
	if s.cell().set {
		return false
	}
	return s.Set(s.arena.NewString(str))
}

// NewSink returns a sink that is independent from this one but
// whose eventual value also sets this one, which is useful when a
// sub-computation needs a scratch slot.
func (s *Sink) NewSink() *Sink {
	return s.arena.newSink(sinkDest{chain: s})
}

// Factory returns a factory allocating in the arena this sink is
// bound to.
func (s *Sink) Factory() Factory { return s.arena }
