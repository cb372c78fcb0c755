package thd

import (
	"fmt"
)

var ErrMismatchedBracket = fmt.Errorf("mismatched bracket")

// BuildJumps pairs up every LoopStart with its LoopEnd in a single pass.
// The returned table maps each bracket's index to its partner's index;
// non-bracket entries are -1. An unpaired bracket on either side is an
// ErrMismatchedBracket, reported before any execution can happen.
func BuildJumps(program []Command) ([]int, error) {
	jumps := make([]int, len(program))
	for i := range jumps {
		jumps[i] = -1
	}

	stack := []int{}
	for i, cmd := range program {
		switch cmd {
		case LoopStart:
			stack = append(stack, i)
		case LoopEnd:
			if len(stack) == 0 {
				return nil, fmt.Errorf("opcode %d: %w", i, ErrMismatchedBracket)
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			jumps[open] = i
			jumps[i] = open
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("opcode %d: %w", stack[len(stack)-1], ErrMismatchedBracket)
	}

	return jumps, nil
}
