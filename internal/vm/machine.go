// vm/machine.go

package vm

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

// Registers is the machine's register file: eight word slots, directly
// addressed by the 3-bit selectors of the instruction encoding.
type Registers [8]uint32

// VM is one complete machine: register file, array heap, byte port and
// program counter. Each VM owns its state, so multiple machines can run in
// the same process.
type VM struct {
	reg   Registers
	pc    uint32
	heap  *Heap
	port  *Port
	code  []uint32
	steps uint64
}

// NewVM creates a machine with program as the code array, the counter at
// offset 0 and all registers zero.
func NewVM(program []uint32, in io.Reader, out io.Writer) *VM {
	return &VM{
		heap: NewHeap(program),
		port: NewPort(in, out),
		code: program,
	}
}

// Reg returns the value of register i.
func (vm *VM) Reg(i int) uint32 {
	return vm.reg[i]
}

// SetReg stores v in register i.
func (vm *VM) SetReg(i int, v uint32) {
	vm.reg[i] = v
}

// PC returns the program counter.
func (vm *VM) PC() uint32 {
	return vm.pc
}

// Steps returns the number of instructions executed so far.
func (vm *VM) Steps() uint64 {
	return vm.steps
}

// Run executes the machine until it halts or faults. It returns nil on HALT
// and a *Fault otherwise. Buffered output is flushed on both exits.
func (vm *VM) Run() error {
	log.Debug().Int("words", len(vm.code)).Msg("machine start")

	for {
		if vm.pc >= uint32(len(vm.code)) {
			return vm.fault(&Fault{
				Code:    FaultPCOutOfBounds,
				Message: fmt.Sprintf("counter %d in code array of %d words", vm.pc, len(vm.code)),
			}, vm.pc)
		}

		// Fetch the word the counter points at, then advance. LOAD_PROGRAM
		// relies on the counter already pointing past the fetched word.
		ip := vm.pc
		inst := Decode(vm.code[ip])
		vm.pc++
		vm.steps++

		log.Trace().Uint32("offset", ip).Stringer("op", inst.Op).Msg("execute")

		switch inst.Op {
		case CONDITIONAL_MOVE:
			if vm.reg[inst.C] != 0 {
				vm.reg[inst.A] = vm.reg[inst.B]
			}

		case ARRAY_INDEX:
			v, f := vm.heap.Read(vm.reg[inst.B], vm.reg[inst.C])
			if f != nil {
				return vm.fault(f, ip)
			}
			vm.reg[inst.A] = v

		case ARRAY_UPDATE:
			if f := vm.heap.Write(vm.reg[inst.A], vm.reg[inst.B], vm.reg[inst.C]); f != nil {
				return vm.fault(f, ip)
			}

		case ADDITION:
			vm.reg[inst.A] = vm.reg[inst.B] + vm.reg[inst.C]

		case MULTIPLICATION:
			vm.reg[inst.A] = vm.reg[inst.B] * vm.reg[inst.C]

		case DIVISION:
			if vm.reg[inst.C] == 0 {
				return vm.fault(&Fault{Code: FaultDivideByZero, Message: "divisor is zero"}, ip)
			}
			vm.reg[inst.A] = vm.reg[inst.B] / vm.reg[inst.C]

		case NAND:
			vm.reg[inst.A] = ^(vm.reg[inst.B] & vm.reg[inst.C])

		case HALT:
			log.Debug().Uint64("steps", vm.steps).Msg("machine halted")
			if err := vm.port.Flush(); err != nil {
				return &Fault{Code: FaultIO, IP: ip, Message: fmt.Sprintf("flush on halt: %v", err)}
			}
			return nil

		case ALLOCATION:
			id, f := vm.heap.Alloc(vm.reg[inst.C])
			if f != nil {
				return vm.fault(f, ip)
			}
			vm.reg[inst.B] = id

		case DEALLOCATION:
			if f := vm.heap.Free(vm.reg[inst.C]); f != nil {
				return vm.fault(f, ip)
			}

		case OUTPUT:
			if f := vm.port.WriteWord(vm.reg[inst.C]); f != nil {
				return vm.fault(f, ip)
			}

		case INPUT:
			v, f := vm.port.ReadWord()
			if f != nil {
				return vm.fault(f, ip)
			}
			vm.reg[inst.C] = v

		case LOAD_PROGRAM:
			// Identifier 0 only reseeks the counter within the running code
			// array. Any other identifier replaces the code array; the local
			// mirror must be refreshed before the counter is rebased so no
			// stale storage is reachable on the next fetch.
			if id := vm.reg[inst.B]; id != 0 {
				if f := vm.heap.CopyIntoCode(id); f != nil {
					return vm.fault(f, ip)
				}
				vm.code = vm.heap.Code()
				log.Debug().Uint32("array", id).Int("words", len(vm.code)).Msg("code array replaced")
			}
			vm.pc = vm.reg[inst.C]

		case LOAD_IMMEDIATE:
			vm.reg[inst.A] = inst.Value

		default:
			return vm.fault(&Fault{
				Code:    FaultInvalidOpcode,
				Message: fmt.Sprintf("opcode %d", uint32(inst.Op)),
			}, ip)
		}
	}
}

// fault stamps f with the offset of the faulting instruction and flushes
// whatever output the program produced before it stopped.
func (vm *VM) fault(f *Fault, ip uint32) error {
	f.IP = ip
	log.Debug().Uint32("offset", ip).Stringer("code", f.Code).Uint64("steps", vm.steps).Msg("machine fault")
	vm.port.Flush()
	return f
}
