package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/How-s-it-going/runthd/thd"

	thd_shim "github.com/How-s-it-going/runthd/shim"

	"github.com/containerd/containerd/v2/pkg/shim"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Maybe hijack the shim to run as a plain interpreter
	interpreter, args := isThdArg(os.Args[1:])

	if interpreter {
		if err := runThd(ctx, args); err != nil {
			fmt.Fprintln(os.Stderr, "Error running thd:", err)
			os.Exit(1)
		}
	} else {
		shim.Run(ctx, thd_shim.NewManager("io.containerd.thd.v1"))
	}
}

///////////////

var (
	filename    string
	output_path string
	input_path  string
)

func isThdArg(args []string) (bool, []string) {
	for i, arg := range args {
		if arg == "thd" {
			return true, append(args[:i], args[i+1:]...)
		}
	}
	return false, args
}

func parseThdFlags(args []string) error {
	my_flagset := flag.NewFlagSet("thd", flag.ExitOnError)
	my_flagset.StringVar(&filename, "file", "", "thd source file")
	my_flagset.StringVar(&output_path, "output", "", "output destination (default: stdout)")
	my_flagset.StringVar(&input_path, "input", "", "input source (default: stdin)")
	return my_flagset.Parse(args)
}

func runThd(ctx context.Context, args []string) error {
	if err := parseThdFlags(args); err != nil {
		return err
	}

	if filename == "" {
		return fmt.Errorf("invalid argument: -file is required")
	}

	source, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	input := io.Reader(os.Stdin)
	if input_path != "" {
		f, err := os.Open(input_path)
		if err != nil {
			return err
		}
		defer f.Close()
		input = f
	}

	output := io.Writer(os.Stdout)
	if output_path != "" {
		f, err := os.Create(output_path)
		if err != nil {
			return err
		}
		defer f.Close()
		output = f
	}

	return thd.RunContext(ctx, string(source), input, output)
}
