package thd_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/How-s-it-going/runthd/thd"
	"github.com/How-s-it-going/runthd/utils"
)

func newInterpreter(t *testing.T, symbols string, input string) *thd.Interpreter {
	var in io.Reader
	if input != "" {
		in = strings.NewReader(input)
	}
	interpreter, err := thd.NewInterpreter(thd.LexSymbols(symbols), in, nil, false)
	utils.AssertNoError(t, err)
	return interpreter
}

func TestInterpreter_OutputEmptyInterpreter(t *testing.T) {
	program := []thd.Command{thd.Output}
	interpreter, err := thd.NewInterpreter(program, nil, nil, false)
	utils.AssertNoError(t, err)
	utils.AssertNoError(t, interpreter.Run())
}

func TestInterpreter_InputEmptyInterpreter(t *testing.T) {
	program := []thd.Command{thd.Input}
	interpreter, err := thd.NewInterpreter(program, nil, nil, false)
	utils.AssertNoError(t, err)
	utils.AssertNoError(t, interpreter.Run())
}

func TestInterpreter_Increment(t *testing.T) {
	interpreter := newInterpreter(t, "+", "")
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 1)
}

func TestInterpreter_Decrement(t *testing.T) {
	interpreter := newInterpreter(t, "-", "")
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 255)
}

func TestInterpreter_IncrementWraps(t *testing.T) {
	interpreter := newInterpreter(t, strings.Repeat("+", 256), "")
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 0)
}

func TestInterpreter_MoveRight(t *testing.T) {
	interpreter := newInterpreter(t, ">+", "")
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertEqual(t, interpreter.At(1), 1)
}

func TestInterpreter_MoveLeftUnderflow(t *testing.T) {
	interpreter := newInterpreter(t, "<", "")
	err := interpreter.Run()
	utils.AssertErrorIs(t, err, thd.ErrPointerUnderflow)
	utils.AssertEqual(t, interpreter.State(), thd.Faulted)
}

func TestInterpreter_UnderflowAfterGrowth(t *testing.T) {
	// grow rightwards first, then walk off the left edge
	interpreter := newInterpreter(t, "><<", "")
	err := interpreter.Run()
	utils.AssertErrorIs(t, err, thd.ErrPointerUnderflow)
	utils.AssertEqual(t, interpreter.State(), thd.Faulted)
}

func TestInterpreter_Loop(t *testing.T) {
	// +++[->+<]
	interpreter := newInterpreter(t, "+++[->+<]", "")
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertEqual(t, interpreter.At(1), 3)
	utils.AssertEqual(t, interpreter.State(), thd.Halted)
}

func TestInterpreter_LoopSkippedWhenZero(t *testing.T) {
	interpreter := newInterpreter(t, "[>+<]", "")
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(1), 0)
	// only the skipped LoopStart executed
	utils.AssertEqual(t, interpreter.Steps(), uint64(1))
}

func TestInterpreter_MismatchedBracket(t *testing.T) {
	_, err := thd.NewInterpreter(thd.LexSymbols("+["), nil, nil, false)
	utils.AssertErrorIs(t, err, thd.ErrMismatchedBracket)
}

func TestInterpreter_OutputByte8(t *testing.T) {
	var out bytes.Buffer
	interpreter, err := thd.NewInterpreter(thd.LexSymbols("++++++++."), nil, &out, false)
	utils.AssertNoError(t, err)
	utils.AssertNoError(t, interpreter.Run())
	utils.Assert(t, bytes.Equal(out.Bytes(), []byte{8}), "expected a single byte with value 8")
	utils.AssertEqual(t, interpreter.State(), thd.Halted)
}

func TestInterpreter_EchoInput(t *testing.T) {
	var out bytes.Buffer
	interpreter, err := thd.NewInterpreter(thd.LexSymbols(",."), strings.NewReader("A"), &out, false)
	utils.AssertNoError(t, err)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, out.String(), "A")
}

func TestInterpreter_MultiByteOutput(t *testing.T) {
	// three raw bytes in, one decoded character out
	sink := &recordingWriter{}
	interpreter, err := thd.NewInterpreter(
		thd.LexSymbols(",.,.,."),
		bytes.NewReader([]byte{0xE3, 0x81, 0x88}),
		sink,
		false,
	)
	utils.AssertNoError(t, err)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, sink.buf.String(), "え")
	utils.AssertEqual(t, sink.writes, 1)
}

func TestInterpreter_InputExhausted(t *testing.T) {
	// cell holds 1, reading exhausted input overwrites it with 0
	interpreter := newInterpreter(t, "+,+", "")
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 1)
	utils.AssertEqual(t, interpreter.State(), thd.Halted)
}

func TestInterpreter_InputExhaustedAfterDrain(t *testing.T) {
	interpreter := newInterpreter(t, ",,", "A")
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 0)
}

func TestInterpreter_StepLimit(t *testing.T) {
	interpreter := newInterpreter(t, "+[]", "")
	interpreter.MaxSteps = 1000
	err := interpreter.Run()
	utils.AssertErrorIs(t, err, thd.ErrStepLimit)
	utils.AssertEqual(t, interpreter.State(), thd.Faulted)
}

func TestInterpreter_ContextCancel(t *testing.T) {
	interpreter := newInterpreter(t, "+[]", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := interpreter.RunContext(ctx)
	utils.AssertErrorIs(t, err, context.Canceled)
}

func TestInterpreter_Reset(t *testing.T) {
	interpreter := newInterpreter(t, "+>+", "")
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.State(), thd.Halted)
	interpreter.Reset()
	utils.AssertEqual(t, interpreter.State(), thd.Running)
	utils.AssertEqual(t, interpreter.At(0), 0)
	utils.AssertEqual(t, interpreter.Pointer(), 0)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(1), 1)
}

func TestRun_SurfaceWords(t *testing.T) {
	var out bytes.Buffer
	source := strings.Repeat("いぬい", 8) + "リゼ"
	utils.AssertNoError(t, thd.Run(source, nil, &out))
	utils.Assert(t, bytes.Equal(out.Bytes(), []byte{8}), "expected a single byte with value 8")
}

func TestRun_SurfaceWordsEcho(t *testing.T) {
	var out bytes.Buffer
	utils.AssertNoError(t, thd.Run("エスタリゼ", strings.NewReader("A"), &out))
	utils.AssertEqual(t, out.String(), "A")
}
