// asm/asm.go

// Package asm encodes, assembles and disassembles machine words.
//
// The listing syntax is line based. A line holds an optional "name:" label,
// then a mnemonic and its operands, then an optional comment introduced by
// '#' or ';'. Register operands are written r0 through r7. Immediate
// operands are decimal, 0x-prefixed hex, quoted characters, or label names;
// a label assembles to the word offset it marks.
package asm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"rgehrsitz/um32/internal/vm"
)

// Std packs a standard-format instruction.
func Std(op vm.Opcode, a, b, c uint32) uint32 {
	return uint32(op)<<28 | (a&7)<<6 | (b&7)<<3 | c&7
}

// Imm packs a LOAD_IMMEDIATE instruction.
func Imm(a, value uint32) uint32 {
	return uint32(vm.LOAD_IMMEDIATE)<<28 | (a&7)<<25 | value&0x01FFFFFF
}

// maxImmediate is the largest value the 25-bit immediate field can carry.
const maxImmediate = 1<<25 - 1

// Mnemonics of the three-selector instructions.
var std3 = map[string]vm.Opcode{
	"cmov":   vm.CONDITIONAL_MOVE,
	"index":  vm.ARRAY_INDEX,
	"update": vm.ARRAY_UPDATE,
	"add":    vm.ADDITION,
	"mul":    vm.MULTIPLICATION,
	"div":    vm.DIVISION,
	"nand":   vm.NAND,
}

type fixup struct {
	offset int
	label  string
	line   int
	reg    uint32
	data   bool
}

// Assembler translates a mnemonic listing into machine words. Label offsets
// are recorded while emitting and patched into li and word operands once the
// whole listing has been read.
type Assembler struct {
	words  []uint32
	labels map[string]uint32
	fixups []fixup
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{labels: make(map[string]uint32)}
}

// Assemble translates the listing read from src into machine words.
func Assemble(src io.Reader) ([]uint32, error) {
	a := NewAssembler()
	sc := bufio.NewScanner(src)
	line := 0
	for sc.Scan() {
		line++
		if err := a.assembleLine(sc.Text(), line); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read listing")
	}
	return a.finish()
}

func (a *Assembler) assembleLine(text string, line int) error {
	if i := strings.IndexAny(text, "#;"); i >= 0 {
		text = text[:i]
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}

	if strings.HasSuffix(fields[0], ":") {
		name := strings.TrimSuffix(fields[0], ":")
		if name == "" {
			return errors.Errorf("line %d: empty label", line)
		}
		if _, dup := a.labels[name]; dup {
			return errors.Errorf("line %d: duplicate label %q", line, name)
		}
		a.labels[name] = uint32(len(a.words))
		fields = fields[1:]
		if len(fields) == 0 {
			return nil
		}
	}

	mnem, args := fields[0], fields[1:]

	if op, ok := std3[mnem]; ok {
		regs, err := parseRegs(args, 3, line)
		if err != nil {
			return err
		}
		a.words = append(a.words, Std(op, regs[0], regs[1], regs[2]))
		return nil
	}

	switch mnem {
	case "halt":
		if len(args) != 0 {
			return errors.Errorf("line %d: halt takes no operands", line)
		}
		a.words = append(a.words, Std(vm.HALT, 0, 0, 0))

	case "alloc", "jump":
		op := vm.ALLOCATION
		if mnem == "jump" {
			op = vm.LOAD_PROGRAM
		}
		regs, err := parseRegs(args, 2, line)
		if err != nil {
			return err
		}
		a.words = append(a.words, Std(op, 0, regs[0], regs[1]))

	case "free", "out", "in":
		ops := map[string]vm.Opcode{"free": vm.DEALLOCATION, "out": vm.OUTPUT, "in": vm.INPUT}
		regs, err := parseRegs(args, 1, line)
		if err != nil {
			return err
		}
		a.words = append(a.words, Std(ops[mnem], 0, 0, regs[0]))

	case "li":
		if len(args) != 2 {
			return errors.Errorf("line %d: li takes a register and a value", line)
		}
		reg, err := parseReg(args[0], line)
		if err != nil {
			return err
		}
		if v, ok := parseLiteral(args[1]); ok {
			if v > maxImmediate {
				return errors.Errorf("line %d: immediate %d exceeds 25 bits", line, v)
			}
			a.words = append(a.words, Imm(reg, v))
			return nil
		}
		a.fixups = append(a.fixups, fixup{offset: len(a.words), label: args[1], line: line, reg: reg})
		a.words = append(a.words, 0)

	case "word":
		if len(args) != 1 {
			return errors.Errorf("line %d: word takes one value", line)
		}
		if v, ok := parseLiteral(args[0]); ok {
			a.words = append(a.words, v)
			return nil
		}
		a.fixups = append(a.fixups, fixup{offset: len(a.words), label: args[0], line: line, data: true})
		a.words = append(a.words, 0)

	default:
		return errors.Errorf("line %d: unknown mnemonic %q", line, mnem)
	}
	return nil
}

func (a *Assembler) finish() ([]uint32, error) {
	for _, fx := range a.fixups {
		off, ok := a.labels[fx.label]
		if !ok {
			return nil, errors.Errorf("line %d: undefined label %q", fx.line, fx.label)
		}
		if fx.data {
			a.words[fx.offset] = off
		} else {
			a.words[fx.offset] = Imm(fx.reg, off)
		}
	}
	if len(a.words) == 0 {
		return nil, errors.New("empty program")
	}
	return a.words, nil
}

func parseRegs(args []string, n, line int) ([]uint32, error) {
	if len(args) != n {
		return nil, errors.Errorf("line %d: want %d register operands, have %d", line, n, len(args))
	}
	regs := make([]uint32, n)
	for i, s := range args {
		r, err := parseReg(s, line)
		if err != nil {
			return nil, err
		}
		regs[i] = r
	}
	return regs, nil
}

func parseReg(s string, line int) (uint32, error) {
	if len(s) == 2 && s[0] == 'r' && s[1] >= '0' && s[1] <= '7' {
		return uint32(s[1] - '0'), nil
	}
	return 0, errors.Errorf("line %d: bad register %q", line, s)
}

func parseLiteral(s string) (uint32, bool) {
	if len(s) >= 3 && s[0] == '\'' && s[len(s)-1] == '\'' {
		switch body := s[1 : len(s)-1]; body {
		case `\n`:
			return '\n', true
		case `\t`:
			return '\t', true
		case `\0`:
			return 0, true
		case `\\`:
			return '\\', true
		default:
			if len(body) == 1 {
				return uint32(body[0]), true
			}
			return 0, false
		}
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// Disassemble renders one machine word as listing text. Words that do not
// decode to a known opcode render as a word directive.
func Disassemble(word uint32) string {
	inst := vm.Decode(word)
	switch inst.Op {
	case vm.CONDITIONAL_MOVE:
		return fmt.Sprintf("cmov r%d r%d r%d", inst.A, inst.B, inst.C)
	case vm.ARRAY_INDEX:
		return fmt.Sprintf("index r%d r%d r%d", inst.A, inst.B, inst.C)
	case vm.ARRAY_UPDATE:
		return fmt.Sprintf("update r%d r%d r%d", inst.A, inst.B, inst.C)
	case vm.ADDITION:
		return fmt.Sprintf("add r%d r%d r%d", inst.A, inst.B, inst.C)
	case vm.MULTIPLICATION:
		return fmt.Sprintf("mul r%d r%d r%d", inst.A, inst.B, inst.C)
	case vm.DIVISION:
		return fmt.Sprintf("div r%d r%d r%d", inst.A, inst.B, inst.C)
	case vm.NAND:
		return fmt.Sprintf("nand r%d r%d r%d", inst.A, inst.B, inst.C)
	case vm.HALT:
		return "halt"
	case vm.ALLOCATION:
		return fmt.Sprintf("alloc r%d r%d", inst.B, inst.C)
	case vm.DEALLOCATION:
		return fmt.Sprintf("free r%d", inst.C)
	case vm.OUTPUT:
		return fmt.Sprintf("out r%d", inst.C)
	case vm.INPUT:
		return fmt.Sprintf("in r%d", inst.C)
	case vm.LOAD_PROGRAM:
		return fmt.Sprintf("jump r%d r%d", inst.B, inst.C)
	case vm.LOAD_IMMEDIATE:
		return fmt.Sprintf("li r%d %d", inst.A, inst.Value)
	default:
		return fmt.Sprintf("word 0x%08X", word)
	}
}
