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
)

// CommandLine is the structured form of a toplevel command-dialect
// line, `arg* (--key value)*`: the positional arguments in order
// plus an option map.
type CommandLine struct {
	args Variant
	opts Variant
}

// ArgumentCount returns the number of positional arguments.
func (c *CommandLine) ArgumentCount() int { return c.args.Len() }

// Argument returns the i'th positional argument, or null if i is
// out of range.
func (c *CommandLine) Argument(i int) Variant { return c.args.At(i) }

// Arguments returns the positional arguments as a frozen array.
func (c *CommandLine) Arguments() Variant { return c.args }

// OptionCount returns the number of options.
func (c *CommandLine) OptionCount() int { return c.opts.MapSize() }

// Option returns the value of the named option, or null.
func (c *CommandLine) Option(key Variant) Variant { return c.opts.MapGet(key) }

// Options returns the options as a frozen map.
func (c *CommandLine) Options() Variant { return c.opts }

// CommandLineReader parses shell-style command lines in the command
// dialect.
type CommandLineReader struct {
	arena *Arena
	err   *SyntaxError
}

// NewCommandLineReader returns a reader that allocates in arena.
func NewCommandLineReader(arena *Arena) *CommandLineReader {
	return &CommandLineReader{arena: arena}
}

// Parse parses one command line. It returns nil on malformed input,
// in which case Err reports the offender.
func (r *CommandLineReader) Parse(src string) *CommandLine {
	r.err = nil
	tr := &TextReader{arena: r.arena, syntax: CommandSyntax}
	p := textParser{src: src, arena: r.arena, syntax: CommandSyntax, reader: tr}
	p.skipWhitespace()
	args := r.arena.NewArray()
	opts := r.arena.NewMap()
	for p.hasMore() && !(p.current() == '-' && p.peek() == '-') {
		arg, ok := p.decode()
		if !ok {
			r.err = tr.err
			return nil
		}
		args.Add(arg)
	}
	for p.current() == '-' && p.peek() == '-' {
		p.advance()
		p.advance()
		p.skipWhitespace()
		key, ok := p.decode()
		if !ok {
			r.err = tr.err
			return nil
		}
		value, ok := p.decode()
		if !ok {
			r.err = tr.err
			return nil
		}
		opts.MapSet(key, value)
	}
	if p.hasMore() {
		p.fail()
		r.err = tr.err
		return nil
	}
	args.Freeze()
	opts.Freeze()
	return &CommandLine{args: args, opts: opts}
}

// Err returns the error recorded by the last Parse call, or nil.
func (r *CommandLineReader) Err() *SyntaxError { return r.err }

// JoinArgv joins an argument vector back into a single command
// line with single-space separators. Empty arguments yield
// adjacent separators, so joining is not lossy about argument
// boundaries.
func JoinArgv(argv []string) string {
	return strings.Join(argv, " ")
}
