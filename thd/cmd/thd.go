package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/How-s-it-going/runthd/thd"

	"github.com/containerd/log"
)

var (
	output_path string
	input_path  string
	debug       bool
	max_steps   uint64
	encode      bool
)

func init() {
	flag.StringVar(&output_path, "output", "", "output destination (default: stdout)")
	flag.StringVar(&input_path, "input", "", "input source (default: stdin)")
	flag.BoolVar(&debug, "debug", false, "trace every opcode to stderr")
	flag.Uint64Var(&max_steps, "max-steps", 0, "fault the run after this many opcodes (0 means no limit)")
	flag.BoolVar(&encode, "encode", false, "read classic single-symbol source and print its surface spelling")
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: thd [flags] <source-file>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	source, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.L.WithError(err).Fatal("reading source file")
	}

	if encode {
		fmt.Println(thd.Encode(thd.LexSymbols(string(source))))
		return
	}

	input := io.Reader(os.Stdin)
	if input_path != "" {
		f, err := os.Open(input_path)
		if err != nil {
			log.L.WithError(err).Fatal("opening input source")
		}
		defer f.Close()
		input = f
	}

	output := io.Writer(os.Stdout)
	if output_path != "" {
		f, err := os.Create(output_path)
		if err != nil {
			log.L.WithError(err).Fatal("opening output destination")
		}
		defer f.Close()
		output = f
	}

	commands := thd.Lex(string(source))
	interpreter, err := thd.NewInterpreter(commands, input, output, debug)
	if err != nil {
		// static rejection, nothing ran
		log.L.WithError(err).Fatal("program rejected")
	}
	interpreter.MaxSteps = max_steps

	if err := interpreter.Run(); err != nil {
		log.L.WithError(err).WithField("state", interpreter.State()).Fatal("run faulted")
	}
}
