package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/um32/internal/asm"
	"rgehrsitz/um32/internal/vm"
)

func mustAssemble(t *testing.T, src string) []uint32 {
	t.Helper()
	words, err := asm.Assemble(strings.NewReader(src))
	require.NoError(t, err)
	return words
}

func run(t *testing.T, words []uint32, input string) (*vm.VM, string, error) {
	t.Helper()
	var out bytes.Buffer
	m := vm.NewVM(words, strings.NewReader(input), &out)
	err := m.Run()
	return m, out.String(), err
}

func requireFault(t *testing.T, err error, code vm.FaultCode) *vm.Fault {
	t.Helper()
	var f *vm.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, code, f.Code)
	return f
}

func TestRun_MinimalHalt(t *testing.T) {
	m, out, err := run(t, []uint32{0x70000000}, "")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, uint64(1), m.Steps())
}

func TestRun_PrintOneCharacter(t *testing.T) {
	_, out, err := run(t, []uint32{0xD2000041, 0xA0000001, 0x70000000}, "")
	require.NoError(t, err)
	assert.Equal(t, "A", out)
}

func TestRun_AddAndOutput(t *testing.T) {
	words := mustAssemble(t, `
		li r1 48
		li r2 1
		add r3 r1 r2
		out r3
		halt
	`)
	_, out, err := run(t, words, "")
	require.NoError(t, err)
	assert.Equal(t, "1", out)
}

func TestRun_AllocWriteReadOutput(t *testing.T) {
	words := mustAssemble(t, `
		li r7 1
		alloc r2 r7        # one fresh word, identifier in r2
		li r3 'B'
		li r4 0
		update r2 r4 r3
		index r5 r2 r4
		out r5
		halt
	`)
	_, out, err := run(t, words, "")
	require.NoError(t, err)
	assert.Equal(t, "B", out)
}

func TestRun_DivideByZeroFaults(t *testing.T) {
	words := mustAssemble(t, `
		li r1 10
		li r2 0
		div r3 r1 r2
	`)
	_, out, err := run(t, words, "")
	f := requireFault(t, err, vm.FaultDivideByZero)
	assert.Equal(t, uint32(2), f.IP)
	assert.Empty(t, out)
}

func TestRun_JumpSkipsInterveningCode(t *testing.T) {
	words := mustAssemble(t, `
		li r1 done
		jump r0 r1         # r0 is 0: reseek within the running code
		li r2 'X'
		out r2
	done:	halt
	`)
	_, out, err := run(t, words, "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRun_ConditionalMove(t *testing.T) {
	words := mustAssemble(t, `
		li r1 7
		li r2 1
		cmov r3 r1 r2      # r2 != 0: taken
		cmov r4 r1 r0      # r0 == 0: not taken
		halt
	`)
	m, _, err := run(t, words, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), m.Reg(3))
	assert.Equal(t, uint32(0), m.Reg(4))
}

func TestRun_ArithmeticBoundaries(t *testing.T) {
	sweep := []uint32{0, 1, 1 << 31, 0xFFFFFFFF}

	for _, b := range sweep {
		for _, c := range sweep {
			runOp := func(op vm.Opcode) uint32 {
				t.Helper()
				var out bytes.Buffer
				m := vm.NewVM([]uint32{asm.Std(op, 3, 1, 2), 0x70000000}, strings.NewReader(""), &out)
				m.SetReg(1, b)
				m.SetReg(2, c)
				require.NoError(t, m.Run())
				return m.Reg(3)
			}

			assert.Equal(t, b+c, runOp(vm.ADDITION), "add %d %d", b, c)
			assert.Equal(t, b*c, runOp(vm.MULTIPLICATION), "mul %d %d", b, c)
			assert.Equal(t, ^(b&c), runOp(vm.NAND), "nand %d %d", b, c)
			if c != 0 {
				assert.Equal(t, b/c, runOp(vm.DIVISION), "div %d %d", b, c)
			}
		}
	}
}

func TestRun_DivisionTruncates(t *testing.T) {
	var out bytes.Buffer
	m := vm.NewVM([]uint32{asm.Std(vm.DIVISION, 3, 1, 2), 0x70000000}, strings.NewReader(""), &out)
	m.SetReg(1, 7)
	m.SetReg(2, 2)
	require.NoError(t, m.Run())
	assert.Equal(t, uint32(3), m.Reg(3))
}

func TestRun_OutputBoundary(t *testing.T) {
	words := mustAssemble(t, `
		li r1 255
		out r1
		halt
	`)
	_, out, err := run(t, words, "")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF}, []byte(out))

	words = mustAssemble(t, `
		li r1 256
		out r1
	`)
	_, out, err = run(t, words, "")
	requireFault(t, err, vm.FaultOutputRange)
	assert.Empty(t, out)
}

func TestRun_InputByte(t *testing.T) {
	words := mustAssemble(t, `
		in r1
		halt
	`)
	m, _, err := run(t, words, "A")
	require.NoError(t, err)
	assert.Equal(t, uint32('A'), m.Reg(1))
}

func TestRun_InputEOF(t *testing.T) {
	words := mustAssemble(t, `
		in r1
		halt
	`)
	m, _, err := run(t, words, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), m.Reg(1))
}

func TestRun_EchoInputOrder(t *testing.T) {
	words := mustAssemble(t, `
		in r1
		out r1
		in r1
		out r1
		halt
	`)
	_, out, err := run(t, words, "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestRun_CounterOffEndFaults(t *testing.T) {
	_, _, err := run(t, []uint32{0xD2000041}, "")
	f := requireFault(t, err, vm.FaultPCOutOfBounds)
	assert.Equal(t, uint32(1), f.IP)
}

func TestRun_JumpToEndOfCodeFaults(t *testing.T) {
	// Reseek to length(code): legal at jump time, fault at next fetch.
	words := mustAssemble(t, `
		li r1 4
		jump r0 r1
		halt
		halt
	`)
	require.Len(t, words, 4)
	_, _, err := run(t, words, "")
	requireFault(t, err, vm.FaultPCOutOfBounds)
}

func TestRun_InvalidOpcodeFaults(t *testing.T) {
	_, _, err := run(t, []uint32{0xE0000000}, "")
	f := requireFault(t, err, vm.FaultInvalidOpcode)
	assert.Equal(t, uint32(0), f.IP)

	_, _, err = run(t, []uint32{0xFFFFFFFF}, "")
	requireFault(t, err, vm.FaultInvalidOpcode)
}

func TestRun_DeallocateCodeArrayFaults(t *testing.T) {
	// r1 is zero at start, naming the code array.
	_, _, err := run(t, mustAssemble(t, "free r1"), "")
	requireFault(t, err, vm.FaultFreeCodeArray)
}

func TestRun_FabricatedIdentifierFaults(t *testing.T) {
	words := mustAssemble(t, `
		li r2 5
		index r1 r2 r0
	`)
	_, _, err := run(t, words, "")
	requireFault(t, err, vm.FaultAbsentArray)
}

func TestRun_DoubleFreeFaults(t *testing.T) {
	words := mustAssemble(t, `
		li r7 1
		alloc r2 r7
		free r2
		free r2
	`)
	_, _, err := run(t, words, "")
	requireFault(t, err, vm.FaultAbsentArray)
}

func TestRun_IdentifierReuseObservable(t *testing.T) {
	words := mustAssemble(t, `
		li r7 1
		alloc r2 r7
		free r2
		alloc r3 r7
		halt
	`)
	m, _, err := run(t, words, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), m.Reg(2))
	assert.Equal(t, m.Reg(2), m.Reg(3), "a freed identifier is handed out again")
}

func TestRun_FaultPreservesEarlierOutput(t *testing.T) {
	words := mustAssemble(t, `
		li r1 'A'
		out r1
		div r2 r1 r0
	`)
	_, out, err := run(t, words, "")
	requireFault(t, err, vm.FaultDivideByZero)
	assert.Equal(t, "A", out, "output written before the fault is flushed")
}

func TestRun_SelfModifyingLoadProgram(t *testing.T) {
	// Build a one-word program (a single halt, copied out of this code
	// array), then jump into it. The intervening instructions must never
	// run once the code array is replaced.
	words := mustAssemble(t, `
		li r7 1
		alloc r2 r7
		li r4 stop
		index r3 r0 r4     # fetch the halt word from the running code
		li r5 0
		update r2 r5 r3
		jump r2 r5         # swap in the new code array, counter to 0
		li r6 'X'
		out r6
	stop:	word 0x70000000
	`)
	m, out, err := run(t, words, "")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, uint32(1), m.PC())
}

func TestRun_LoadProgramFromAbsentArrayFaults(t *testing.T) {
	words := mustAssemble(t, `
		li r2 9
		jump r2 r0
	`)
	_, _, err := run(t, words, "")
	requireFault(t, err, vm.FaultAbsentArray)
}

func TestRun_RegistersStartZero(t *testing.T) {
	m, _, err := run(t, mustAssemble(t, "halt"), "")
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		assert.Equal(t, uint32(0), m.Reg(i))
	}
}
