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
	"strings"
	"testing"

	"sigs.k8s.io/yaml"
)

// checkSyntax writes v, checks the rendering, reparses it and
// checks that rewriting reproduces the same text (the writer output
// is a fixed point of read-then-write).
func checkSyntax(t *testing.T, syntax Syntax, want string, v Variant) {
	t.Helper()
	w := NewTextWriterSyntax(syntax)
	w.Write(v)
	if w.String() != want {
		t.Fatalf("write = %q, want %q", w.String(), want)
	}
	arena := NewArena()
	defer arena.Dispose()
	r := NewTextReaderSyntax(arena, syntax)
	decoded := r.Parse(w.String())
	if r.Failed() {
		t.Fatalf("reparse of %q failed: %s", w.String(), r.Err())
	}
	if !decoded.IsFrozen() {
		t.Fatalf("decoded %q not frozen", want)
	}
	again := NewTextWriterSyntax(syntax)
	again.Write(decoded)
	if again.String() != want {
		t.Fatalf("rewrite = %q, want %q", again.String(), want)
	}
}

// checkASCII checks the source rendering and, where it differs, the
// command rendering.
func checkASCII(t *testing.T, src, cmd string, v Variant) {
	t.Helper()
	checkSyntax(t, SourceSyntax, src, v)
	if cmd == "" {
		cmd = src
	}
	checkSyntax(t, CommandSyntax, cmd, v)
}

func TestTextPrimitives(t *testing.T) {
	checkASCII(t, "%f", "", False())
	checkASCII(t, "%t", "", True())
	checkASCII(t, "%n", "", Null())
	checkASCII(t, "0", "", Int(0))
	checkASCII(t, "10", "", Int(10))
	checkASCII(t, "-10", "", Int(-10))
	checkASCII(t, "fooBAR123", "", String("fooBAR123"))
	checkASCII(t, "foo-BAR-123", "", String("foo-BAR-123"))
	checkASCII(t, `""`, "", String(""))
	checkASCII(t, `"123"`, "", String("123"))
	checkASCII(t, `"a b c"`, "", String("a b c"))
	checkASCII(t, `"a\nb"`, "", String("a\nb"))
	checkASCII(t, `"a\"b\"c"`, "", String(`a"b"c`))
	checkASCII(t, `"a\x01b\xa2c"`, "", String("a\x01b\xa2c"))
}

func TestTextIDs(t *testing.T) {
	checkASCII(t, "~fabacaea", "", ID32(0xfabacaea))
	checkASCII(t, "~00000000fabacaea", "", ID64(0xfabacaea))
	checkASCII(t, "~0f", "", ID(8, 0xf))
	checkASCII(t, "~beef", "", ID(16, 0xbeef))
	checkASCII(t, "~12:ff", "", ID(12, 0xff))
}

func TestTextBlobs(t *testing.T) {
	checkASCII(t, "%[TWFu]", "", Blob([]byte("Man")))
	checkASCII(t, "%[cGxlYXN1cmUu]", "", Blob([]byte("pleasure.")))
	checkASCII(t, "%[bGVhc3VyZS4=]", "", Blob([]byte("leasure.")))
	checkASCII(t, "%[ZWFzdXJlLg==]", "", Blob([]byte("easure.")))
	checkASCII(t, "%[YXN1cmUu]", "", Blob([]byte("asure.")))
	checkASCII(t, "%[c3VyZS4=]", "", Blob([]byte("sure.")))
	checkASCII(t, "%[]", "", Blob(nil))
}

func TestTextArrays(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	a0 := arena.NewArray()
	a0.Add(Int(8))
	a0.Add(String("foo"))
	checkASCII(t, "[8, foo]", "[8 foo]", a0)
	for i := 0; i < 4; i++ {
		a0.Add(String("blahblahblah"))
	}
	checkASCII(t,
		"[8, foo, blahblahblah, blahblahblah, blahblahblah, blahblahblah]",
		"[8 foo blahblahblah blahblahblah blahblahblah blahblahblah]", a0)
	a0.Add(String("blahblahblah"))
	checkASCII(t,
		"[\n"+
			"  8,\n"+
			"  foo,\n"+
			"  blahblahblah,\n"+
			"  blahblahblah,\n"+
			"  blahblahblah,\n"+
			"  blahblahblah,\n"+
			"  blahblahblah\n"+
			"]",
		"[8 foo blahblahblah blahblahblah blahblahblah blahblahblah blahblahblah]",
		a0)
	a1 := arena.NewArray()
	checkASCII(t, "[]", "", a1)
	a2 := arena.NewArray()
	a2.Add(a1)
	a2.Add(a1)
	checkASCII(t, "[[], []]", "[[] []]", a2)
	a3 := arena.NewArray()
	a3.Add(a2)
	a3.Add(a2)
	checkASCII(t, "[[[], []], [[], []]]", "[[[] []] [[] []]]", a3)
}

func TestTextMaps(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	m := arena.NewMap()
	m.MapSet(String("foo"), String("bar"))
	checkASCII(t, "{foo: bar}", "{--foo bar}", m)
	m.MapSet(Int(8), Int(16))
	checkASCII(t, "{foo: bar, 8: 16}", "{--foo bar --8 16}", m)
	m.MapSet(arena.NewArray(), arena.NewMap())
	checkASCII(t, "{foo: bar, 8: 16, []: {}}", "{--foo bar --8 16 --[] {}}", m)
}

func TestTextSeeds(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	s := arena.NewSeed()
	s.SetHeader(String("File"))
	checkASCII(t, "@File()", "@File()", s)
	s.SetField(String("foo"), String("bar"))
	checkASCII(t, "@File(foo: bar)", "@File(--foo bar)", s)
	s.SetField(Int(3), True())
	checkASCII(t, "@File(foo: bar, 3: %t)", "@File(--foo bar --3 %t)", s)
	s.SetField(String("long"), String("asdfkjasaslasdfsaddkjfhkasldjfhlaskdjfhlaskdjfhaasdfl"))
	checkASCII(t,
		"@File{\n"+
			"  foo: bar,\n"+
			"  3: %t,\n"+
			"  long: asdfkjasaslasdfsaddkjfhkasldjfhlaskdjfhlaskdjfhaasdfl\n"+
			"}",
		"@File(--foo bar --3 %t --long asdfkjasaslasdfsaddkjfhkasldjfhlaskdjfhlaskdjfhaasdfl)", s)
}

func checkSyntaxRewrite(t *testing.T, syntax Syntax, src, want string) {
	t.Helper()
	arena := NewArena()
	defer arena.Dispose()
	r := NewTextReaderSyntax(arena, syntax)
	decoded := r.Parse(src)
	if r.Failed() {
		t.Fatalf("parse %q failed at %d (%q)", src, r.Err().Offset, r.Err().Offender)
	}
	w := NewTextWriterSyntax(syntax)
	w.Write(decoded)
	if w.String() != want {
		t.Fatalf("rewrite(%q) = %q, want %q", src, w.String(), want)
	}
}

func checkBothRewrite(t *testing.T, src, want string) {
	t.Helper()
	checkSyntaxRewrite(t, SourceSyntax, src, want)
	checkSyntaxRewrite(t, CommandSyntax, src, want)
}

func checkSyntaxFails(t *testing.T, syntax Syntax, offender byte, offset int, src string) {
	t.Helper()
	arena := NewArena()
	defer arena.Dispose()
	r := NewTextReaderSyntax(arena, syntax)
	decoded := r.Parse(src)
	if !r.Failed() {
		t.Fatalf("parse %q did not fail", src)
	}
	if !decoded.IsNull() {
		t.Fatalf("failed parse of %q yielded a value", src)
	}
	e := r.Err()
	if e.Offender != offender || e.Offset != offset {
		t.Fatalf("parse %q: error (%q, %d), want (%q, %d)",
			src, e.Offender, e.Offset, offender, offset)
	}
	// the error travels as a native variant too
	if got := r.ErrVariant().NativeAs(SyntaxErrorType); got != e {
		t.Fatalf("error variant mismatch: %v", got)
	}
}

func checkBothFail(t *testing.T, offender byte, offset int, src string) {
	t.Helper()
	checkSyntaxFails(t, SourceSyntax, offender, offset, src)
	checkSyntaxFails(t, CommandSyntax, offender, offset, src)
}

func TestTextRewrites(t *testing.T) {
	checkBothRewrite(t, "%f", "%f")
	checkBothRewrite(t, " %f", "%f")
	checkBothRewrite(t, "[ ]", "[]")
	checkBothRewrite(t, "[ 1]", "[1]")
	checkBothRewrite(t, "[1 ]", "[1]")
	checkBothRewrite(t, " [1]", "[1]")
	checkBothRewrite(t, "[1] ", "[1]")
	checkBothRewrite(t, "{ }", "{}")
	checkBothRewrite(t, `"\xfa"`, `"\xfa"`)
	checkBothRewrite(t, `"\xFA"`, `"\xfa"`)
	checkBothRewrite(t, "%[cGxlYXN1cmUu]", "%[cGxlYXN1cmUu]")
	checkBothRewrite(t, "%[ cGxlYXN1cmUu ]", "%[cGxlYXN1cmUu]")
	checkBothRewrite(t, "%[cGxl YXN1 cmUu]", "%[cGxlYXN1cmUu]")
	checkBothRewrite(t, "%[ c G x l Y X N 1 c m U u ]", "%[cGxlYXN1cmUu]")
	checkSyntaxRewrite(t, SourceSyntax, "[1,] ", "[1]")
	checkSyntaxRewrite(t, SourceSyntax, "[1, ]", "[1]")
	checkSyntaxRewrite(t, SourceSyntax, "{a:b}", "{a: b}")
	checkSyntaxRewrite(t, SourceSyntax, "{ a: b}", "{a: b}")
	checkSyntaxRewrite(t, SourceSyntax, "{a: b }", "{a: b}")
	checkSyntaxRewrite(t, SourceSyntax, "{a :b}", "{a: b}")
	checkSyntaxRewrite(t, SourceSyntax, "{a: b,}", "{a: b}")
	checkSyntaxRewrite(t, CommandSyntax, "{ --a b}", "{--a b}")
	checkSyntaxRewrite(t, CommandSyntax, "{--a b }", "{--a b}")
	checkSyntaxRewrite(t, CommandSyntax, "{ -- a b}", "{--a b}")
}

func TestTextFailures(t *testing.T) {
	checkBothFail(t, '%', 3, "%f %f")
	checkSyntaxFails(t, SourceSyntax, ',', 1, "[,]")
	checkSyntaxFails(t, SourceSyntax, ',', 1, "{,}")
	checkSyntaxFails(t, SourceSyntax, '}', 3, "{a:}")
	checkSyntaxFails(t, SourceSyntax, ':', 1, "{:b}")
	checkSyntaxFails(t, SourceSyntax, 'c', 5, "{a:b c:d}")
	checkSyntaxFails(t, SourceSyntax, '2', 3, "[1 2]")
	checkSyntaxFails(t, SourceSyntax, 0, 4, "[1, ")
	checkSyntaxFails(t, SourceSyntax, 0, 2, "[1")
	checkSyntaxFails(t, SourceSyntax, 0, 1, "[")
	checkSyntaxFails(t, SourceSyntax, 0, 1, "{")
	checkSyntaxFails(t, SourceSyntax, 0, 2, "{a")
	checkSyntaxFails(t, SourceSyntax, 0, 3, "{a:")
	checkSyntaxFails(t, SourceSyntax, 0, 4, "{a:b")
	checkBothFail(t, 0, 1, `"`)
	checkBothFail(t, 0, 2, `"\`)
	checkBothFail(t, 0, 3, `"\x`)
	checkBothFail(t, 0, 4, `"\xa`)
	checkBothFail(t, 'g', 4, `"\xag"`)
	checkBothFail(t, 'g', 3, `"\xga"`)
	checkBothFail(t, '%', 2, `"\%"`)
	checkBothFail(t, 0, 1, "%")
	checkBothFail(t, 'g', 1, "%g")
	checkBothFail(t, '.', 6, "%[cGxl.XN1cmUu]")
	checkBothFail(t, ']', 13, "%[cGxlYXN1cmU]")
	checkBothFail(t, ']', 12, "%[cGxlYXN1cm]")
	checkBothFail(t, ']', 11, "%[cGxlYXN1c]")
	checkBothFail(t, '=', 10, "%[cGxlYXN1=mUu]")
	checkBothFail(t, '=', 11, "%[cGxlYXN1c=Uu]")
	checkSyntaxFails(t, CommandSyntax, '}', 4, "{--a}")
	checkSyntaxFails(t, CommandSyntax, '-', 5, "{--a --}")
	checkSyntaxFails(t, CommandSyntax, '-', 0, "--")
	checkSyntaxFails(t, CommandSyntax, 'b', 1, "{b}")
	checkSyntaxFails(t, CommandSyntax, 0, 3, "[1 ")
	checkSyntaxFails(t, CommandSyntax, 0, 2, "[1")
	checkSyntaxFails(t, CommandSyntax, 0, 1, "[")
	checkSyntaxFails(t, CommandSyntax, 0, 1, "{")
	checkSyntaxFails(t, CommandSyntax, 0, 3, "{--")
	checkSyntaxFails(t, CommandSyntax, 0, 4, "{--b")
	checkSyntaxFails(t, CommandSyntax, 0, 6, "{--b c")
}

func TestTextErrorReset(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	r := NewTextReader(arena)
	r.Parse("[")
	if !r.Failed() {
		t.Fatal("expected failure")
	}
	v := r.Parse("[1]")
	if r.Failed() || r.Err() != nil || !r.ErrVariant().IsNull() {
		t.Fatal("error state must reset on the next parse")
	}
	if v.Len() != 1 {
		t.Fatal("parse after failure broken")
	}
}

func TestTextComments(t *testing.T) {
	checkBothRewrite(t, "# here comes false\n %f", "%f")
	checkBothRewrite(t, "# here comes false then true %f\n %t", "%t")
	checkBothRewrite(t, "# here comes false\f %f", "%f")
	checkBothRewrite(t, "%f # here came false", "%f")
	checkBothRewrite(t, "#{ asdfas #} %f", "%f")
	checkBothRewrite(t, "#{ \n a \n b \n c \n #} %f", "%f")
	checkBothRewrite(t, "#{\n  # nested eol comment\n#}\n%f", "%f")
	checkBothRewrite(t, "#{\n  # nested eol comment with ignored end marker #}\n#}\n%f", "%f")
	checkBothRewrite(t, "#{ #{ #{ #{ deeply nested #} #} #} #} %f", "%f")
	checkBothRewrite(t, "#{ #{ #{ deeply nested #} #} #} %t", "%t")
	checkBothRewrite(t, "[ #{ asdfas #} 1 #{ asdfasd #} ]", "[1]")
	checkBothFail(t, 0, 5, "#{  #")
	checkBothFail(t, 0, 2, "#{")
	checkBothFail(t, 0, 1, "#")
}

func TestTextSeedParsing(t *testing.T) {
	checkSyntaxRewrite(t, SourceSyntax, "@File()", "@File()")
	checkSyntaxRewrite(t, SourceSyntax, "@File(foo:bar)", "@File(foo: bar)")
	checkSyntaxRewrite(t, SourceSyntax, "@File{foo: bar}", "@File(foo: bar)")
	// headers that are not lexable as unquoted strings travel in
	// quotes
	checkSyntaxRewrite(t, SourceSyntax, `@"binary.Point"(x: 10, y: 18)`, `@"binary.Point"(x: 10, y: 18)`)
	checkSyntaxRewrite(t, CommandSyntax, "@File(--foo bar)", "@File(--foo bar)")
}

func TestCommandLine(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	check := func(src string, args []Variant, opts [][2]Variant) {
		t.Helper()
		r := NewCommandLineReader(arena)
		cmd := r.Parse(src)
		if cmd == nil {
			t.Fatalf("parse %q failed: %v", src, r.Err())
		}
		if cmd.ArgumentCount() != len(args) {
			t.Fatalf("parse %q: %d args, want %d", src, cmd.ArgumentCount(), len(args))
		}
		for i := range args {
			if !cmd.Argument(i).Equal(args[i]) {
				t.Errorf("parse %q: arg %d mismatch", src, i)
			}
		}
		if cmd.OptionCount() != len(opts) {
			t.Fatalf("parse %q: %d options, want %d", src, cmd.OptionCount(), len(opts))
		}
		for _, kv := range opts {
			if !cmd.Option(kv[0]).Equal(kv[1]) {
				t.Errorf("parse %q: option mismatch", src)
			}
		}
	}
	check("", nil, nil)
	check("foo", []Variant{String("foo")}, nil)
	check("foo bar", []Variant{String("foo"), String("bar")}, nil)
	check("foo bar baz", []Variant{String("foo"), String("bar"), String("baz")}, nil)
	check("foo --bar baz", []Variant{String("foo")},
		[][2]Variant{{String("bar"), String("baz")}})
	check("foo --bar baz --1 2", []Variant{String("foo")},
		[][2]Variant{{String("bar"), String("baz")}, {Int(1), Int(2)}})

	if NewCommandLineReader(arena).Parse("--") != nil {
		t.Fatal("parse of bare -- succeeded")
	}
}

func TestJoinArgv(t *testing.T) {
	cases := []struct {
		argv []string
		want string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a b"},
		{[]string{"a", "b", "c"}, "a b c"},
		{[]string{"a", "", "c"}, "a  c"},
		{[]string{"a", "   ", "c"}, "a     c"},
	}
	for _, c := range cases {
		if got := JoinArgv(c.argv); got != c.want {
			t.Errorf("join(%q) = %q, want %q", c.argv, got, c.want)
		}
	}
}

// corpus of rewrite vectors shared with other plankton
// implementations
const rewriteCorpus = `
cases:
  - src: '%n'
    want: '%n'
  - src: '  42  '
    want: '42'
  - src: '[%t, %f, %n]'
    want: '[%t, %f, %n]'
  - src: '{nested: {a: [1, 2, 3]}}'
    want: '{nested: {a: [1, 2, 3]}}'
  - src: '[1,2,  3 ,4,]'
    want: '[1, 2, 3, 4]'
  - src: '~cafe'
    want: '~cafe'
  - src: '@Request(method: get, args: [])'
    want: '@Request(method: get, args: [])'
  - src: '"with space"'
    want: '"with space"'
`

func TestTextCorpus(t *testing.T) {
	var corpus struct {
		Cases []struct {
			Src  string `json:"src"`
			Want string `json:"want"`
		} `json:"cases"`
	}
	if err := yaml.Unmarshal([]byte(rewriteCorpus), &corpus); err != nil {
		t.Fatal(err)
	}
	if len(corpus.Cases) == 0 {
		t.Fatal("empty corpus")
	}
	for _, c := range corpus.Cases {
		checkSyntaxRewrite(t, SourceSyntax, c.Src, c.Want)
	}
}

func TestTextWriterNative(t *testing.T) {
	arena := NewArena()
	defer arena.Dispose()
	n := arena.NewNative(struct{}{}, nil)
	w := NewTextWriter()
	w.Write(n)
	if w.String() != "?" {
		t.Fatalf("native rendering = %q", w.String())
	}
	// a container holding an opaque value always takes block form
	if shortLength(n, 0) < shortLengthLimit {
		t.Fatal("opaque values must exceed the short-length budget")
	}
}

func TestTextLongStringStaysFlat(t *testing.T) {
	// strings never break across lines regardless of length
	long := strings.Repeat("x", 200)
	w := NewTextWriter()
	w.Write(String(long))
	if w.String() != long {
		t.Fatalf("long unquoted string altered")
	}
}
