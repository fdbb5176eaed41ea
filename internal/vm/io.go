// vm/io.go

package vm

import (
	"bufio"
	"fmt"
	"io"
)

// EOFWord is loaded into the target register when input reaches the end of
// the host stream: the word with all 32 bits set.
const EOFWord = 0xFFFFFFFF

// Port is the machine's single-byte console. Output is buffered; the buffer
// is flushed before every blocking read and again when the machine stops.
type Port struct {
	in  *bufio.Reader
	out *bufio.Writer
}

// NewPort creates a port over the given host streams.
func NewPort(in io.Reader, out io.Writer) *Port {
	return &Port{in: bufio.NewReader(in), out: bufio.NewWriter(out)}
}

// WriteWord emits v as one byte. Values above 255 are a machine exception.
func (p *Port) WriteWord(v uint32) *Fault {
	if v > 255 {
		return &Fault{Code: FaultOutputRange, Message: fmt.Sprintf("output value %d exceeds 255", v)}
	}
	if err := p.out.WriteByte(byte(v)); err != nil {
		return &Fault{Code: FaultIO, Message: fmt.Sprintf("output: %v", err)}
	}
	return nil
}

// ReadWord blocks until one byte arrives and returns it as a word, or
// EOFWord once the host signals end of input.
func (p *Port) ReadWord() (uint32, *Fault) {
	if err := p.out.Flush(); err != nil {
		return 0, &Fault{Code: FaultIO, Message: fmt.Sprintf("flush before input: %v", err)}
	}
	b, err := p.in.ReadByte()
	if err == io.EOF {
		return EOFWord, nil
	}
	if err != nil {
		return 0, &Fault{Code: FaultIO, Message: fmt.Sprintf("input: %v", err)}
	}
	return uint32(b), nil
}

// Flush drains buffered output to the host stream.
func (p *Port) Flush() error {
	return p.out.Flush()
}
