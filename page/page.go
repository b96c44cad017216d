// Package page implements the fixed-size page table at the heart of the
// spool engine: pages migrate between absent, memory-resident, and
// disk-backed states as the cursor pair advances through them.
package page

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"petabuf/paddr"
)

// State is a bitset over the two independent facts a slot can carry: is it
// currently mapped into the process, and does a spool file exist for it.
type State uint8

const (
	// Mapped means the slot's memory (anonymous or a file mapping) is
	// currently resident in the process address space.
	Mapped State = 1 << iota
	// OnDisk means a spool file exists for the slot, whether or not it is
	// presently mapped.
	OnDisk
)

// PathProvider resolves a page index to the spool file path that backs it.
// Satisfied by *spool.Provider.
type PathProvider interface {
	PathOf(idx uint32) (string, error)
}

// Sink receives counter snapshots after every page-state transition.
// Satisfied by *telemetry.Sink.
type Sink interface {
	Counters(nmapped, nondisk, nfree uint64)
	OutOfMemory()
	HeadroomReleased()
}

// Store owns the page table: per-slot state, the anonymous memory budget,
// and the headroom reserve. It is not safe for concurrent use — the spool
// engine runs a single flow of control end to end, so nothing else ever
// touches a Store while the loop is running.
type Store struct {
	paths PathProvider
	sink  Sink

	pageSize uint32
	n        uint32

	pages  [][]byte
	states []State

	headroom []byte

	nmapped uint64
	nondisk uint64
	nfree   uint64
}

// New allocates a page table of n slots of pageSize bytes each, a headroom
// reserve of 4*pageSize bytes, and sizes the initial anonymous-memory
// budget to totalMemory/pageSize/2 pages (half of detected physical RAM).
func New(paths PathProvider, sink Sink, pageSize, n uint32, totalMemory uint64) (*Store, error) {
	headroom, err := unix.Mmap(-1, 0, int(4*pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "page: allocating headroom reserve")
	}

	return &Store{
		paths:    paths,
		sink:     sink,
		pageSize: pageSize,
		n:        n,
		pages:    make([][]byte, n),
		states:   make([]State, n),
		headroom: headroom,
		nfree:    totalMemory / uint64(pageSize) / 2,
	}, nil
}

// Counters returns the current (nmapped, nondisk, nfree) population counts.
func (s *Store) Counters() (nmapped, nondisk, nfree uint64) {
	return s.nmapped, s.nondisk, s.nfree
}

// PageSize returns the fixed page size the store was created with.
func (s *Store) PageSize() uint32 { return s.pageSize }

// N returns the page table's slot count.
func (s *Store) N() uint32 { return s.n }

func (s *Store) checkIdx(idx uint32) error {
	if idx >= s.n {
		return errors.Errorf("page: index %d out of range [0, %d)", idx, s.n)
	}
	return nil
}

// Pin ensures slot idx is mapped into the process, materializing it if
// necessary. It is idempotent. Allocation is tried in order of preference:
// reuse an existing mapping, remap an existing spool file, map fresh
// anonymous memory, and only then fall back to spilling a new spool file.
func (s *Store) Pin(idx uint32) error {
	if err := s.checkIdx(idx); err != nil {
		return err
	}

	st := s.states[idx]
	if st&Mapped != 0 {
		return nil
	}

	if st&OnDisk != 0 {
		return s.remapFromDisk(idx)
	}

	if s.nfree > 0 {
		mapped, err := s.tryAnonymous(idx)
		if err != nil {
			return err
		}
		if mapped {
			return nil
		}
		// Fell through: anonymous allocation hit ENOMEM and collapsed
		// the budget. Spill this page (and, implicitly, all future
		// ones, since nfree is now stuck at zero) to disk.
	}

	return s.spillToDisk(idx)
}

// remapFromDisk re-opens an existing spool file and maps it shared.
func (s *Store) remapFromDisk(idx uint32) error {
	path, err := s.paths.PathOf(idx)
	if err != nil {
		return errors.Wrapf(err, "page: resolving path for page %d", idx)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrapf(err, "page: opening %s", path)
	}
	defer f.Close()

	b, err := unix.Mmap(int(f.Fd()), 0, int(s.pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrapf(err, "page: mapping %s", path)
	}

	s.pages[idx] = b
	s.states[idx] |= Mapped
	s.nmapped++
	s.sink.Counters(s.nmapped, s.nondisk, s.nfree)
	return nil
}

// tryAnonymous attempts a private anonymous mapping for idx. On success it
// reports mapped=true. On ENOMEM it collapses the budget (forces nfree to
// zero, releases the headroom reserve once) and reports mapped=false so the
// caller falls through to the disk-spill path. Any other error is fatal.
func (s *Store) tryAnonymous(idx uint32) (mapped bool, err error) {
	b, mmapErr := unix.Mmap(-1, 0, int(s.pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if mmapErr == nil {
		s.pages[idx] = b
		s.states[idx] |= Mapped
		s.nmapped++
		s.nfree--
		s.sink.Counters(s.nmapped, s.nondisk, s.nfree)
		return true, nil
	}

	if mmapErr != unix.ENOMEM {
		return false, errors.Wrap(mmapErr, "page: allocating anonymous page")
	}

	s.sink.OutOfMemory()
	s.nfree = 0
	if s.headroom != nil {
		if err := unix.Munmap(s.headroom); err != nil {
			return false, errors.Wrap(err, "page: releasing headroom reserve")
		}
		s.headroom = nil
		s.sink.HeadroomReleased()
	}
	return false, nil
}

// spillToDisk creates (or re-uses, on a path collision that cannot happen
// within one process instance) the spool file for idx, extends it to a full
// page, and maps it shared.
func (s *Store) spillToDisk(idx uint32) error {
	path, err := s.paths.PathOf(idx)
	if err != nil {
		return errors.Wrapf(err, "page: resolving path for page %d", idx)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "page: creating %s", path)
	}
	defer f.Close()

	if err := f.Truncate(int64(s.pageSize)); err != nil {
		return errors.Wrapf(err, "page: growing %s", path)
	}

	b, err := unix.Mmap(int(f.Fd()), 0, int(s.pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrapf(err, "page: mapping %s", path)
	}

	s.pages[idx] = b
	s.states[idx] |= Mapped | OnDisk
	s.nmapped++
	s.nondisk++
	s.sink.Counters(s.nmapped, s.nondisk, s.nfree)
	return nil
}

// Unpin releases the memory mapping for idx while preserving any backing
// spool file. Memory-only pages (never spilled) have no spool file to fall
// back on, so unmapping one would lose its data before it's freed; Unpin is
// a no-op for them, and idempotent for an already-unmapped slot.
func (s *Store) Unpin(idx uint32) error {
	if err := s.checkIdx(idx); err != nil {
		return err
	}

	st := s.states[idx]
	if st&Mapped == 0 {
		return nil
	}
	if st&OnDisk == 0 {
		return nil
	}

	if err := unix.Munmap(s.pages[idx]); err != nil {
		return errors.Wrapf(err, "page: unmapping page %d", idx)
	}
	s.pages[idx] = nil
	s.states[idx] &^= Mapped
	s.nmapped--
	s.sink.Counters(s.nmapped, s.nondisk, s.nfree)
	return nil
}

// Free releases slot idx entirely: unlinks its spool file if disk-backed,
// or unmaps and returns its budget if memory-only. No-op on an already
// absent slot.
func (s *Store) Free(idx uint32) error {
	if err := s.checkIdx(idx); err != nil {
		return err
	}

	st := s.states[idx]
	switch {
	case st&OnDisk != 0:
		if st&Mapped != 0 {
			return errors.Errorf("page: freeing page %d that is still mapped", idx)
		}
		path, err := s.paths.PathOf(idx)
		if err != nil {
			return errors.Wrapf(err, "page: resolving path for page %d", idx)
		}
		if err := os.Remove(path); err != nil {
			return errors.Wrapf(err, "page: unlinking %s", path)
		}
		s.states[idx] &^= OnDisk
		s.nondisk--
		s.sink.Counters(s.nmapped, s.nondisk, s.nfree)

	case st&Mapped != 0:
		if err := unix.Munmap(s.pages[idx]); err != nil {
			return errors.Wrapf(err, "page: freeing page %d", idx)
		}
		s.pages[idx] = nil
		s.states[idx] &^= Mapped
		s.nmapped--
		s.nfree++
		s.sink.Counters(s.nmapped, s.nondisk, s.nfree)
	}

	return nil
}

// Bytes returns the mapped page at addr.Idx as a byte slice starting at
// addr.Off, the moral equivalent of the C original's ptr_of. addr.Idx must
// currently be mapped.
func (s *Store) Bytes(addr paddr.Addr) ([]byte, error) {
	if err := s.checkIdx(addr.Idx); err != nil {
		return nil, err
	}
	if s.states[addr.Idx]&Mapped == 0 {
		return nil, errors.Errorf("page: page %d is not mapped", addr.Idx)
	}
	if addr.Off >= s.pageSize {
		return nil, errors.Errorf("page: offset %d out of range [0, %d)", addr.Off, s.pageSize)
	}
	return s.pages[addr.Idx][addr.Off:], nil
}

// Close releases the headroom reserve, if it has not already been released
// by an out-of-memory fallback. It does not touch any page slot; callers
// are expected to have drained the table, which on a normal exit leaves no
// live slots.
func (s *Store) Close() error {
	if s.headroom == nil {
		return nil
	}
	err := unix.Munmap(s.headroom)
	s.headroom = nil
	if err != nil {
		return errors.Wrap(err, "page: releasing headroom reserve")
	}
	return nil
}
