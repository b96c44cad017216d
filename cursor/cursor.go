// Package cursor implements the read/write cursor pair that drives the
// paged spool engine's I/O loop.
//
// Naming follows the data's direction, not the syscall that moves it: Read
// is the position bytes are written FROM towards stdout (what the
// downstream consumer reads); Write is the position bytes are written TO
// from stdin.
package cursor

import (
	"github.com/pkg/errors"

	"petabuf/paddr"
)

// ErrOutOfPages is returned by AdvanceWrite when the write cursor would
// cross past the last slot in the page table.
var ErrOutOfPages = errors.New("cursor: out of pages")

// Crossing describes a page-boundary crossing produced by Advance{Read,Write}.
// The loop uses it to drive the corresponding page store transitions.
type Crossing struct {
	Happened bool
	OldIdx   uint32
	NewIdx   uint32

	// SkipUnpin is set on a write-cursor crossing when the old page is
	// still shared with the read cursor; unpinning it would be wrong
	// since the read cursor has not finished draining it yet.
	SkipUnpin bool
}

// Pair tracks the monotonic read (rpos) and write (wpos) cursors over a
// page table of N slots of PageSize bytes each.
type Pair struct {
	PageSize uint32
	N        uint32

	Read  paddr.Addr // rpos
	Write paddr.Addr // wpos
}

// New returns a cursor pair with both cursors at the origin.
func New(pageSize, n uint32) *Pair {
	return &Pair{PageSize: pageSize, N: n}
}

// NToRead is the number of bytes the next read(2) from stdin may deposit
// into the current write page. It is PageSize - Write.Off, and is > 0
// until the caller latches end-of-input.
func (p *Pair) NToRead() uint32 {
	return p.PageSize - p.Write.Off
}

// NToWrite is the number of bytes available for the next write(2) to
// stdout: zero exactly when the cursors coincide.
func (p *Pair) NToWrite() uint32 {
	if p.Write.Idx == p.Read.Idx {
		return p.Write.Off - p.Read.Off
	}
	return p.PageSize - p.Read.Off
}

// AdvanceWrite records k bytes freshly read from stdin into the write
// cursor's page and, on a page-boundary crossing, advances Write.Idx.
func (p *Pair) AdvanceWrite(k uint32) (Crossing, error) {
	p.Write.Off += k
	if p.Write.Off != p.PageSize {
		return Crossing{}, nil
	}

	c := Crossing{
		Happened:  true,
		OldIdx:    p.Write.Idx,
		SkipUnpin: p.Write.Idx == p.Read.Idx,
	}

	p.Write.Idx++
	if p.Write.Idx >= p.N {
		return c, ErrOutOfPages
	}
	c.NewIdx = p.Write.Idx
	p.Write.Off = 0
	return c, nil
}

// AdvanceRead records k bytes freshly written to stdout from the read
// cursor's page and, on a page-boundary crossing, advances Read.Idx.
func (p *Pair) AdvanceRead(k uint32) (Crossing, error) {
	p.Read.Off += k
	if p.Read.Off != p.PageSize {
		return Crossing{}, nil
	}

	c := Crossing{
		Happened: true,
		OldIdx:   p.Read.Idx,
	}

	p.Read.Idx++
	c.NewIdx = p.Read.Idx
	p.Read.Off = 0
	return c, nil
}

// Done reports whether the cursors coincide, i.e. every byte written so far
// has also been drained to stdout.
func (p *Pair) Done() bool {
	return p.Read.Equal(p.Write)
}
