package thd

import (
	"context"
	"io"
)

func Run(source string, input io.Reader, output io.Writer) error {
	return RunContext(context.Background(), source, input, output)
}

func RunContext(ctx context.Context, source string, input io.Reader, output io.Writer) error {
	commands := Lex(source)

	interpreter, err := NewInterpreter(commands, input, output, false)
	if err != nil {
		return err
	}
	return interpreter.RunContext(ctx)
}
