package thd

import (
	"fmt"
)

var ErrPointerUnderflow = fmt.Errorf("data pointer underflow")

const tape_page = 30_000

// Tape is the machine memory: a run of uint8 cells growing rightwards on
// demand. The data pointer starts at cell 0 and may never move left of it.
type Tape struct {
	cells []uint8
	ptr   int
}

func NewTape() *Tape {
	return &Tape{
		cells: make([]uint8, tape_page),
		ptr:   0,
	}
}

func (t *Tape) Read() uint8 {
	return t.cells[t.ptr]
}

func (t *Tape) Write(v uint8) {
	t.cells[t.ptr] = v
}

// Move shifts the data pointer by delta, growing the tape with zeroed
// pages when the pointer passes the right edge. Moving left of cell 0 is
// an ErrPointerUnderflow.
func (t *Tape) Move(delta int) error {
	ptr := t.ptr + delta
	if ptr < 0 {
		return ErrPointerUnderflow
	}
	if ptr >= len(t.cells) {
		pages := 1 + (ptr / tape_page)
		t.cells = append(t.cells, make([]uint8, pages*tape_page-len(t.cells))...)
	}
	t.ptr = ptr
	return nil
}

func (t *Tape) Pointer() int {
	return t.ptr
}

func (t *Tape) Len() int {
	return len(t.cells)
}

// At reads an arbitrary cell. Cells past the grown region read as zero.
func (t *Tape) At(i int) uint8 {
	if i < 0 || i >= len(t.cells) {
		return 0
	}
	return t.cells[i]
}
