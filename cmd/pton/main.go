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

// pton decodes binary plankton and pretty-prints it as text.
// With -d it prints the raw instruction stream instead, one
// decoded opcode per line.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/SnellerInc/plankton"
)

var (
	dashd bool
	dashc bool
)

func init() {
	flag.BoolVar(&dashd, "d", false, "disassemble the instruction stream")
	flag.BoolVar(&dashc, "c", false, "print command syntax instead of source syntax")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		args = []string{"-"}
	}
	for _, name := range args {
		var buf []byte
		var err error
		if name == "-" {
			buf, err = io.ReadAll(os.Stdin)
		} else {
			buf, err = os.ReadFile(name)
		}
		if err != nil {
			exitf("pton: %s\n", err)
		}
		if dashd {
			disassemble(buf)
			continue
		}
		dump(name, buf)
	}
}

func dump(name string, buf []byte) {
	arena := plankton.NewArena()
	defer arena.Dispose()
	reader := plankton.NewBinaryReader(arena)
	v, err := reader.Parse(buf)
	if err != nil {
		exitf("pton: %s: %s\n", name, err)
	}
	if reader.Consumed() != len(buf) {
		exitf("pton: %s: %d trailing bytes\n", name, len(buf)-reader.Consumed())
	}
	syntax := plankton.SourceSyntax
	if dashc {
		syntax = plankton.CommandSyntax
	}
	w := plankton.NewTextWriterSyntax(syntax)
	w.Write(v)
	fmt.Println(w.String())
}

func disassemble(buf []byte) {
	pos := 0
	for pos < len(buf) {
		in, err := plankton.DecodeNextInstruction(buf[pos:])
		if err != nil {
			exitf("pton: at offset %d: %s\n", pos, err)
		}
		fmt.Printf("%6d  %-22s %s\n", pos, in.Op, operand(in))
		pos += in.Size
	}
}

func operand(in plankton.Instr) string {
	switch in.Op {
	case plankton.OpInt64:
		return fmt.Sprintf("%d", in.Int)
	case plankton.OpID:
		return fmt.Sprintf("~%d:%x", in.Bits, in.ID)
	case plankton.OpDefaultString:
		return fmt.Sprintf("%q", in.Bytes)
	case plankton.OpStringWithEncoding:
		return fmt.Sprintf("charset=%d %q", in.Encoding, in.Bytes)
	case plankton.OpBlob:
		return fmt.Sprintf("%d bytes", len(in.Bytes))
	case plankton.OpArray, plankton.OpMap, plankton.OpObject:
		return fmt.Sprintf("n=%d", in.Count)
	case plankton.OpReference:
		return fmt.Sprintf("@%d", in.Offset)
	default:
		return ""
	}
}
