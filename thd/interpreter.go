package thd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
)

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/How-s-it-going/runthd/thd.debug=true'"`
var debug string

var ErrStepLimit = fmt.Errorf("step limit reached")

type State int

const (
	Running State = iota
	Halted
	Faulted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Halted:
		return "halted"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

type Interpreter struct {
	Program     []Command
	program_ptr int
	jumps       []int
	tape        *Tape
	input       *bufio.Reader
	output      *RuneWriter
	state       State
	steps       uint64
	debug       bool

	// MaxSteps faults the run once the executed opcode count reaches it.
	// Zero means no limit.
	MaxSteps uint64
}

// NewInterpreter builds the jump table for program up front, so a
// mismatched bracket is reported before anything runs. A nil input acts
// as an exhausted source; a nil output discards.
func NewInterpreter(program []Command, input io.Reader, output io.Writer, debug bool) (*Interpreter, error) {
	jumps, err := BuildJumps(program)
	if err != nil {
		return nil, err
	}
	i := &Interpreter{
		Program:     program,
		program_ptr: 0,
		jumps:       jumps,
		tape:        NewTape(),
		state:       Running,
		debug:       debug,
	}
	if input != nil {
		i.input = bufio.NewReader(input)
	}
	if output != nil {
		i.output = NewRuneWriter(output)
	}
	return i, nil
}

func (i *Interpreter) Reset() {
	i.program_ptr = 0
	i.tape = NewTape()
	i.state = Running
	i.steps = 0
}

func (i *Interpreter) State() State {
	return i.state
}

func (i *Interpreter) Steps() uint64 {
	return i.steps
}

// Index the tape
func (i *Interpreter) At(j int) uint8 {
	return i.tape.At(j)
}

func (i *Interpreter) Pointer() int {
	return i.tape.Pointer()
}

// Write a debug message to stderr if debug is enabled
func logf(format string, args ...interface{}) {
	if debug != "" {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Run the program in a loop until it halts or faults
func (i *Interpreter) RunContext(ctx context.Context) error {
	for i.program_ptr < len(i.Program) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if i.MaxSteps > 0 && i.steps >= i.MaxSteps {
			return i.fault(fmt.Errorf("opcode %d: %w", i.program_ptr, ErrStepLimit))
		}
		c := i.Program[i.program_ptr]
		if i.debug {
			fmt.Fprintf(os.Stderr, "ip:%d op:%s dp:%d cell:%d\n", i.program_ptr, c, i.tape.Pointer(), i.tape.Read())
		}
		switch c {
		case Increment:
			i.tape.Write(i.tape.Read() + 1)
		case Decrement:
			i.tape.Write(i.tape.Read() - 1)
		case Right:
			if err := i.tape.Move(1); err != nil {
				return i.fault(fmt.Errorf("opcode %d: %w", i.program_ptr, err))
			}
		case Left:
			if err := i.tape.Move(-1); err != nil {
				return i.fault(fmt.Errorf("opcode %d: %w", i.program_ptr, err))
			}
		case Output:
			if i.output != nil {
				if err := i.output.WriteByte(i.tape.Read()); err != nil {
					return i.fault(fmt.Errorf("opcode %d: writing output: %w", i.program_ptr, err))
				}
			}
		case Input:
			b, err := i.read_byte()
			if err != nil {
				if err == io.EOF {
					logf("EOF")
					// exhausted input reads as zero
					i.tape.Write(0)
				} else {
					return i.fault(fmt.Errorf("opcode %d: reading input: %w", i.program_ptr, err))
				}
			} else {
				i.tape.Write(b)
			}
		case LoopStart:
			if i.tape.Read() == 0 {
				// jump past the matching LoopEnd
				i.program_ptr = i.jumps[i.program_ptr]
			}
		case LoopEnd:
			if i.tape.Read() != 0 {
				// jump back into the loop body
				i.program_ptr = i.jumps[i.program_ptr]
			}
		default:
			panic("Unknown command")
		}
		i.program_ptr++
		i.steps++
	}
	i.state = Halted
	return i.flush()
}

func (i *Interpreter) Run() error {
	return i.RunContext(context.Background())
}

func (i *Interpreter) read_byte() (byte, error) {
	if i.input == nil {
		return 0, io.EOF
	}
	return i.input.ReadByte()
}

// fault moves to the terminal Faulted state, flushing whatever output
// already accumulated.
func (i *Interpreter) fault(err error) error {
	i.state = Faulted
	if i.output != nil {
		_ = i.output.Flush()
	}
	return err
}

func (i *Interpreter) flush() error {
	if i.output == nil {
		return nil
	}
	if err := i.output.Flush(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}
	return nil
}
