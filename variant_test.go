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
	"testing"
)

func TestScalars(t *testing.T) {
	if !Null().IsNull() || Null().Truthy() {
		t.Error("null is not null")
	}
	if !True().BoolValue() || False().BoolValue() {
		t.Error("booleans broken")
	}
	if !True().Truthy() || !False().Truthy() {
		t.Error("booleans should be truthy values")
	}
	if Int(-42).Int64() != -42 {
		t.Error("integer payload lost")
	}
	if Int(0).Type() != IntType || Int(0).BoolValue() {
		t.Error("integer zero misbehaves")
	}
	if String("foo").StringValue() != "foo" || String("foo").StringLen() != 3 {
		t.Error("string payload lost")
	}
	if String("foo").StringEncoding().Int64() != int64(CharsetUTF8) {
		t.Error("default encoding should be utf-8")
	}
	if ID64(0xFABACAEA).IDBits() != 64 || ID64(0xFABACAEA).ID64() != 0xFABACAEA {
		t.Error("id payload lost")
	}
	if ID32(7).IDBits() != 32 {
		t.Error("id32 width lost")
	}
	// accessors are total across kinds
	if Int(5).StringLen() != 0 || String("x").Int64() != 0 || True().Len() != 0 {
		t.Error("cross-kind accessors should fall back to zero values")
	}
}

func TestEquality(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	if !Int(4).Equal(Int(4)) || Int(4).Equal(Int(5)) {
		t.Error("integer equality broken")
	}
	if !String("foo").Equal(arena.NewString("foo")) {
		t.Error("strings compare by content across physical forms")
	}
	if String("foo").Equal(String("bar")) {
		t.Error("distinct strings compare equal")
	}
	if String("foo").Equal(Int(4)) || Null().Equal(False()) {
		t.Error("cross-kind equality")
	}
	if !Blob([]byte{1, 2}).Equal(arena.NewBlob([]byte{1, 2})) {
		t.Error("blobs compare by content")
	}
	a0 := arena.NewArray()
	a1 := arena.NewArray()
	if a0.Equal(a1) {
		t.Error("two fresh arrays must not be equal")
	}
	if !a0.Equal(a0) {
		t.Error("array must equal itself")
	}
	m0 := arena.NewMap()
	if m0.Equal(a0) {
		t.Error("map equals array")
	}
	// encoding participates in string equality
	sj := arena.NewStringWithEncoding([]byte("foo"), Int(int64(CharsetShiftJIS)))
	if sj.Equal(String("foo")) {
		t.Error("strings with different encodings compare equal")
	}
}

func TestArray(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	a := arena.NewArray()
	if a.Len() != 0 || a.IsFrozen() {
		t.Fatal("fresh array not empty and mutable")
	}
	if !a.Add(Int(1)) || !a.Add(String("two")) {
		t.Fatal("add failed")
	}
	if a.Len() != 2 || a.At(0).Int64() != 1 || a.At(1).StringValue() != "two" {
		t.Fatal("array contents wrong")
	}
	if !a.At(5).IsNull() || !a.At(-1).IsNull() {
		t.Error("out-of-range must yield null")
	}
	a.Freeze()
	if !a.IsFrozen() {
		t.Fatal("freeze did not take")
	}
	if a.Add(Int(3)) {
		t.Error("add to frozen array succeeded")
	}
	if a.Len() != 2 {
		t.Error("failed add changed the array")
	}
	a.Freeze() // idempotent
	if !a.IsFrozen() {
		t.Error("freeze must be monotonic")
	}
}

func TestMapFirstMatch(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	m := arena.NewMap()
	m.MapSet(String("k"), Int(1))
	m.MapSet(String("k"), Int(2))
	if m.MapSize() != 2 {
		t.Fatal("duplicate keys must be kept")
	}
	if m.MapGet(String("k")).Int64() != 1 {
		t.Error("lookup must return the first match")
	}
	if !m.MapGet(String("missing")).IsNull() {
		t.Error("missing key must yield null")
	}
	k, v := m.MapAt(1)
	if k.StringValue() != "k" || v.Int64() != 2 {
		t.Error("insertion order lost")
	}
	m.Freeze()
	if m.MapSet(Int(1), Int(2)) {
		t.Error("set on frozen map succeeded")
	}
}

func TestSeed(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	s := arena.NewSeed()
	if !s.Header().IsNull() {
		t.Fatal("fresh seed header must be null")
	}
	if !s.SetHeader(String("File")) {
		t.Fatal("set header failed")
	}
	s.SetField(String("foo"), String("bar"))
	s.SetField(Int(3), True())
	if s.FieldCount() != 2 {
		t.Fatal("field count wrong")
	}
	if s.Field(String("foo")).StringValue() != "bar" {
		t.Error("field lookup wrong")
	}
	// setting an existing field replaces in place
	s.SetField(String("foo"), String("baz"))
	if s.FieldCount() != 2 || s.Field(String("foo")).StringValue() != "baz" {
		t.Error("field replace broken")
	}
	k, _ := s.FieldAt(0)
	if k.StringValue() != "foo" {
		t.Error("field order lost")
	}
	s.Freeze()
	if s.SetHeader(String("Other")) || s.SetField(Int(1), Int(2)) {
		t.Error("mutation of frozen seed succeeded")
	}
}

func TestMutableStringAndBlob(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	s := arena.NewMutableString(3)
	if s.StringLen() != 3 || s.IsFrozen() {
		t.Fatal("mutable string shape wrong")
	}
	copy(s.MutableBytes(), "abc")
	if s.StringValue() != "abc" {
		t.Fatal("write through mutable bytes lost")
	}
	s.Freeze()
	if s.MutableBytes() != nil {
		t.Error("frozen string still exposes mutable bytes")
	}
	b := arena.NewMutableBlob(2)
	b.MutableBytes()[1] = 0xff
	if b.BlobData()[1] != 0xff {
		t.Error("blob write lost")
	}
	if String("x").MutableBytes() != nil {
		t.Error("inline strings are frozen")
	}
}

func TestSinkSingleAssignment(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	s := arena.NewSink()
	if s.IsSet() || !s.Value().IsNull() {
		t.Fatal("fresh sink must be empty")
	}
	if !s.Set(Int(1)) {
		t.Fatal("first set failed")
	}
	if s.Set(Int(2)) {
		t.Error("second set succeeded")
	}
	if s.Value().Int64() != 1 {
		t.Error("first value did not win")
	}
}

func TestSinkThroughContainers(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	a := arena.NewArray()
	sink := a.AddSink()
	if a.Len() != 1 || !a.At(0).IsNull() {
		t.Fatal("add sink must reserve a null slot")
	}
	a.Freeze()
	if !sink.Set(Int(9)) {
		t.Fatal("sink set failed")
	}
	if a.At(0).Int64() != 9 {
		t.Error("sink did not write through to the reserved slot")
	}
	m := arena.NewMap()
	ks, vs := m.MapSetSinks()
	ks.Set(String("k"))
	vs.Set(Int(7))
	if m.MapGet(String("k")).Int64() != 7 {
		t.Error("map sinks did not write through")
	}
	if s := a.AddSink(); s != nil {
		t.Error("add sink on frozen array succeeded")
	}
}

func TestSinkHelpers(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	s := arena.NewSink()
	arr := s.AsArray()
	if arr.Type() != ArrayType || !s.IsSet() {
		t.Fatal("as-array did not assign")
	}
	// the sink is assigned now, so further conversions return the
	// stored value
	if !s.AsMap().Equal(arr) {
		t.Error("as-map after assignment must return the stored value")
	}
	nested := arena.NewSink().NewSink()
	nested.Set(Int(5))
	if nested.Value().Int64() != 5 {
		t.Error("nested sink lost its value")
	}
	s2 := arena.NewSink()
	child := s2.NewSink()
	child.Set(String("x"))
	if !s2.IsSet() || s2.Value().StringValue() != "x" {
		t.Error("child assignment must propagate to the parent sink")
	}
}

func TestArenaDispose(t *testing.T) {
	arena := NewArena()
	order := []int{}
	arena.OnDispose(func() { order = append(order, 1) })
	arena.OnDispose(func() { order = append(order, 2) })
	arena.Dispose()
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("destructors must run in LIFO order, got %v", order)
	}
}

func TestVersionCheck(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("corrupted variant did not trap")
		}
	}()
	bad := Variant{kind: IntType, version: 0x01, num: 4}
	bad.Equal(Int(4))
}
