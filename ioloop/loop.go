// Package ioloop implements the non-blocking, readiness-driven I/O loop
// that copies bytes from stdin to stdout through the page store. Exactly
// one flow of control; the only place execution suspends is the poll(2)
// call inside Run.
package ioloop

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"petabuf/cursor"
	"petabuf/paddr"
	"petabuf/page"
)

// Sink receives the loop's narrative and per-iteration cursor snapshots.
// Satisfied by *telemetry.Sink.
type Sink interface {
	Cursors(read, write paddr.Addr)
	Read(n int)
	Wrote(n int)
	EOF()
}

// Loop owns the two raw file descriptors and the cursor/page-store pair it
// shuttles bytes between.
type Loop struct {
	pages   *page.Store
	cursors *cursor.Pair
	sink    Sink

	stdinFd  int
	stdoutFd int
}

// New returns a Loop moving bytes from stdinFd to stdoutFd through pages,
// driven by cursors, narrating to sink.
func New(pages *page.Store, cursors *cursor.Pair, sink Sink, stdinFd, stdoutFd int) *Loop {
	return &Loop{
		pages:    pages,
		cursors:  cursors,
		sink:     sink,
		stdinFd:  stdinFd,
		stdoutFd: stdoutFd,
	}
}

// Run switches both descriptors to non-blocking mode, pins page 0, and
// iterates the readiness loop until stdin has latched EOF and the read
// cursor has caught up to the write cursor. It returns on the first error;
// there is no partial-failure mode to recover from, so every error from
// this loop is fatal to the caller.
func (l *Loop) Run() error {
	if err := setNonblocking(l.stdinFd); err != nil {
		return errors.Wrap(err, "ioloop: setting stdin non-blocking")
	}
	if err := setNonblocking(l.stdoutFd); err != nil {
		return errors.Wrap(err, "ioloop: setting stdout non-blocking")
	}

	if err := l.pages.Pin(0); err != nil {
		return errors.Wrap(err, "ioloop: pinning page 0")
	}

	ntoread := l.cursors.NToRead()
	ntowrite := l.cursors.NToWrite()

	for ntoread > 0 || ntowrite > 0 {
		l.sink.Cursors(l.cursors.Read, l.cursors.Write)

		pfds := make([]unix.PollFd, 0, 2)
		stdinSlot, stdoutSlot := -1, -1
		if ntoread > 0 {
			stdinSlot = len(pfds)
			pfds = append(pfds, unix.PollFd{Fd: int32(l.stdinFd), Events: unix.POLLIN})
		}
		if ntowrite > 0 {
			stdoutSlot = len(pfds)
			pfds = append(pfds, unix.PollFd{Fd: int32(l.stdoutFd), Events: unix.POLLOUT})
		}

		if _, err := unix.Poll(pfds, -1); err != nil {
			if err == unix.EINTR {
				return errors.New("ioloop: interrupted by signal")
			}
			return errors.Wrap(err, "ioloop: poll")
		}

		if stdinSlot >= 0 && pfds[stdinSlot].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			newNtoread, err := l.handleReadable(ntoread)
			if err != nil {
				return err
			}
			ntoread = newNtoread
		}

		if stdoutSlot >= 0 && pfds[stdoutSlot].Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
			if err := l.handleWritable(ntowrite); err != nil {
				return err
			}
		}

		ntowrite = l.cursors.NToWrite()
	}

	return nil
}

// handleReadable issues one read(2) of up to ntoread bytes into the write
// cursor's page and advances bookkeeping accordingly.
func (l *Loop) handleReadable(ntoread uint32) (uint32, error) {
	dst, err := l.pages.Bytes(l.cursors.Write)
	if err != nil {
		return 0, errors.Wrap(err, "ioloop: resolving write-cursor page")
	}
	dst = dst[:ntoread]

	n, err := unix.Read(l.stdinFd, dst)
	if err != nil {
		return 0, errors.Wrap(err, "ioloop: read")
	}
	if n == 0 {
		l.sink.EOF()
		return 0, nil
	}

	l.sink.Read(n)

	crossing, err := l.cursors.AdvanceWrite(uint32(n))
	if err != nil {
		return 0, errors.Wrap(err, "ioloop: advancing write cursor")
	}
	if crossing.Happened {
		if !crossing.SkipUnpin {
			if err := l.pages.Unpin(crossing.OldIdx); err != nil {
				return 0, errors.Wrap(err, "ioloop: unpinning filled write page")
			}
		}
		if err := l.pages.Pin(crossing.NewIdx); err != nil {
			return 0, errors.Wrap(err, "ioloop: pinning next write page")
		}
	}

	return l.cursors.NToRead(), nil
}

// handleWritable issues one write(2) of up to ntowrite bytes from the read
// cursor's page and advances bookkeeping accordingly.
func (l *Loop) handleWritable(ntowrite uint32) error {
	src, err := l.pages.Bytes(l.cursors.Read)
	if err != nil {
		return errors.Wrap(err, "ioloop: resolving read-cursor page")
	}
	src = src[:ntowrite]

	n, err := unix.Write(l.stdoutFd, src)
	if err != nil {
		return errors.Wrap(err, "ioloop: write")
	}
	if n == 0 {
		// Defensive: some platforms may report a zero-length write.
		// Treat it as a no-op and let the loop re-select rather than
		// spinning on it as if it were an error.
		return nil
	}

	l.sink.Wrote(n)

	crossing, err := l.cursors.AdvanceRead(uint32(n))
	if err != nil {
		return errors.Wrap(err, "ioloop: advancing read cursor")
	}
	if crossing.Happened {
		if err := l.pages.Unpin(crossing.OldIdx); err != nil {
			return errors.Wrap(err, "ioloop: unpinning drained read page")
		}
		if err := l.pages.Free(crossing.OldIdx); err != nil {
			return errors.Wrap(err, "ioloop: freeing drained read page")
		}
		if err := l.pages.Pin(crossing.NewIdx); err != nil {
			return errors.Wrap(err, "ioloop: pinning next read page")
		}
	}

	return nil
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}
