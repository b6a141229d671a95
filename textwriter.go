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
	"encoding/base64"
	"strconv"
)

// Syntax selects one of the two text dialects.
type Syntax uint8

const (
	// SourceSyntax is the general-purpose dialect: comma
	// separators, `key: value` mappings, block form for long
	// containers.
	SourceSyntax Syntax = iota
	// CommandSyntax is the shell-flavored dialect: whitespace
	// separators and `--key value` mappings, always on one line.
	CommandSyntax
)

// shortLengthLimit is the column budget that decides between the
// inline and block form of a container. Anything the probe cannot
// size is treated as already past the limit.
const shortLengthLimit = 80

// TextWriter renders variants as 7-bit ASCII text.
type TextWriter struct {
	syntax         Syntax
	buf            []byte
	indent         int
	pendingNewline bool
}

// NewTextWriter returns a writer for the source dialect.
func NewTextWriter() *TextWriter { return &TextWriter{} }

// NewTextWriterSyntax returns a writer for the given dialect.
func NewTextWriterSyntax(syntax Syntax) *TextWriter {
	return &TextWriter{syntax: syntax}
}

// Write appends the rendering of v to the writer's output.
func (w *TextWriter) Write(v Variant) {
	v.check()
	w.write(v)
	w.flushNewline()
}

// String returns the text written so far.
func (w *TextWriter) String() string { return string(w.buf) }

// Bytes returns the text written so far. The buffer is still owned
// by the writer.
func (w *TextWriter) Bytes() []byte { return w.buf }

func (w *TextWriter) write(v Variant) {
	switch v.Type() {
	case BoolType:
		if v.BoolValue() {
			w.raw("%t")
		} else {
			w.raw("%f")
		}
	case NullType:
		w.raw("%n")
	case IntType:
		w.raw(strconv.FormatInt(v.Int64(), 10))
	case StringType:
		w.writeString(v.stringBytes())
	case IDType:
		w.writeID(v.IDBits(), v.ID64())
	case BlobType:
		w.writeBlob(v.BlobData())
	case ArrayType:
		w.writeArray(v)
	case MapType:
		w.writeMap(v)
	case SeedType:
		w.writeSeed(v)
	default:
		w.raw("?")
	}
}

// shortLength walks v accumulating an estimated formatted length on
// top of offset, bailing out as soon as the estimate reaches the
// short-length limit so the probe stays linear.
func shortLength(v Variant, offset int) int {
	switch v.Type() {
	case IntType:
		return offset + 5
	case BoolType, NullType:
		return offset + 2
	case StringType:
		return offset + v.StringLen()
	case IDType:
		return offset + 1 + int(v.IDBits())/4
	case BlobType:
		return offset + 3 + 4*((v.BlobSize()+2)/3)
	case ArrayType:
		current := offset + 2
		for i := 0; i < v.Len() && current < shortLengthLimit; i++ {
			current = shortLength(v.At(i), current) + 2
		}
		return current
	case MapType:
		current := offset + 2
		for i := 0; i < v.MapSize() && current < shortLengthLimit; i++ {
			k, val := v.MapAt(i)
			current = shortLength(k, current) + 2
			current = shortLength(val, current)
		}
		return current
	case SeedType:
		current := shortLength(v.Header(), offset+1) + 2
		for i := 0; i < v.FieldCount() && current < shortLengthLimit; i++ {
			k, val := v.FieldAt(i)
			current = shortLength(k, current) + 2
			current = shortLength(val, current)
		}
		return current
	default:
		return shortLengthLimit
	}
}

func (w *TextWriter) raw(s string) {
	w.flushNewline()
	w.buf = append(w.buf, s...)
}

func (w *TextWriter) rawByte(c byte) {
	w.flushNewline()
	w.buf = append(w.buf, c)
}

func (w *TextWriter) flushNewline() {
	if !w.pendingNewline {
		return
	}
	w.pendingNewline = false
	w.buf = append(w.buf, '\n')
	for i := 0; i < w.indent; i++ {
		w.buf = append(w.buf, ' ')
	}
}

func (w *TextWriter) scheduleNewline() { w.pendingNewline = true }

func isUnquotedStart(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isUnquotedPart(c byte) bool {
	return isUnquotedStart(c) || ('0' <= c && c <= '9') || c == '_' || c == '-'
}

func isUnquoted(b []byte) bool {
	if len(b) == 0 || !isUnquotedStart(b[0]) {
		return false
	}
	for _, c := range b[1:] {
		if !isUnquotedPart(c) {
			return false
		}
	}
	return true
}

// isUnescaped reports whether c can appear verbatim inside a quoted
// string: printable ASCII except the quote and the backslash.
func isUnescaped(c byte) bool {
	return ' ' <= c && c <= '~' && c != '"' && c != '\\'
}

// shortEscape returns the single-letter escape for c, if it has
// one.
func shortEscape(c byte) (byte, bool) {
	switch c {
	case '\a':
		return 'a', true
	case '\b':
		return 'b', true
	case '\f':
		return 'f', true
	case '\n':
		return 'n', true
	case '\t':
		return 't', true
	case '\r':
		return 'r', true
	case '\v':
		return 'v', true
	case 0:
		return '0', true
	case '\\', '"':
		return c, true
	default:
		return 0, false
	}
}

const hexDigits = "0123456789abcdef"

func (w *TextWriter) writeString(b []byte) {
	if isUnquoted(b) {
		w.flushNewline()
		w.buf = append(w.buf, b...)
		return
	}
	w.rawByte('"')
	for _, c := range b {
		if isUnescaped(c) {
			w.buf = append(w.buf, c)
			continue
		}
		w.buf = append(w.buf, '\\')
		if esc, ok := shortEscape(c); ok {
			w.buf = append(w.buf, esc)
		} else {
			w.buf = append(w.buf, 'x', hexDigits[c>>4], hexDigits[c&0xf])
		}
	}
	w.buf = append(w.buf, '"')
}

func (w *TextWriter) writeBlob(data []byte) {
	w.raw("%[")
	w.buf = append(w.buf, base64.StdEncoding.EncodeToString(data)...)
	w.buf = append(w.buf, ']')
}

func (w *TextWriter) writeID(bits uint32, value uint64) {
	w.flushNewline()
	switch bits {
	case 8, 16, 32, 64:
		w.buf = append(w.buf, '~')
		digits := int(bits) / 4
		for i := digits - 1; i >= 0; i-- {
			w.buf = append(w.buf, hexDigits[(value>>(uint(i)*4))&0xf])
		}
	default:
		w.buf = append(w.buf, '~')
		w.buf = strconv.AppendUint(w.buf, uint64(bits), 10)
		w.buf = append(w.buf, ':')
		w.buf = strconv.AppendUint(w.buf, value, 16)
	}
}

func (w *TextWriter) isLong(v Variant) bool {
	return w.syntax == SourceSyntax && shortLength(v, w.indent) >= shortLengthLimit
}

func (w *TextWriter) writeArray(v Variant) {
	long := w.isLong(v)
	w.rawByte('[')
	if long {
		w.indent += 2
		w.scheduleNewline()
	}
	n := v.Len()
	for i := 0; i < n; i++ {
		w.write(v.At(i))
		if i+1 < n {
			w.separator(long)
		}
		if long {
			w.scheduleNewline()
		}
	}
	if long {
		w.indent -= 2
	}
	w.rawByte(']')
}

// separator writes the between-elements separator: `, ` inline
// source, a bare comma in block form, a single space in command
// syntax.
func (w *TextWriter) separator(long bool) {
	if w.syntax == CommandSyntax {
		w.rawByte(' ')
		return
	}
	w.rawByte(',')
	if !long {
		w.rawByte(' ')
	}
}

func (w *TextWriter) writeMap(v Variant) {
	long := w.isLong(v)
	w.rawByte('{')
	if long {
		w.indent += 2
		w.scheduleNewline()
	}
	n := v.MapSize()
	for i := 0; i < n; i++ {
		k, val := v.MapAt(i)
		w.writeMapping(k, val)
		if i+1 < n {
			w.separator(long)
		}
		if long {
			w.scheduleNewline()
		}
	}
	if long {
		w.indent -= 2
	}
	w.rawByte('}')
}

func (w *TextWriter) writeMapping(k, v Variant) {
	if w.syntax == CommandSyntax {
		w.raw("--")
		w.write(k)
		w.rawByte(' ')
		w.write(v)
		return
	}
	w.write(k)
	w.rawByte(':')
	w.rawByte(' ')
	w.write(v)
}

func (w *TextWriter) writeSeed(v Variant) {
	long := w.isLong(v)
	w.rawByte('@')
	w.write(v.Header())
	open, closer := byte('('), byte(')')
	if long {
		open, closer = '{', '}'
	}
	w.rawByte(open)
	if long {
		w.indent += 2
		w.scheduleNewline()
	}
	n := v.FieldCount()
	for i := 0; i < n; i++ {
		k, val := v.FieldAt(i)
		w.writeMapping(k, val)
		if i+1 < n {
			w.separator(long)
		}
		if long {
			w.scheduleNewline()
		}
	}
	if long {
		w.indent -= 2
	}
	w.rawByte(closer)
}
