// Package telemetry emits the paged spool engine's diagnostic stream:
// counter and cursor snapshots, plus narrative lines for startup, EOF,
// out-of-memory fallback, and headroom release.
//
// Output always goes to stderr, never stdout. The log level raises or
// lowers the floor but never silences the stream outright; the sink
// methods are still called on every transition regardless of level.
package telemetry

import (
	"github.com/prometheus/common/log"

	"petabuf/paddr"
)

// Sink wraps a leveled logger with the fixed vocabulary the spool engine
// needs. The zero value is not usable; construct with New.
type Sink struct {
	logger log.Logger
}

// New returns a Sink writing through logger. Pass log.Base() for the
// package-level default logger, already configured against os.Stderr.
func New(logger log.Logger) *Sink {
	return &Sink{logger: logger}
}

// Startup reports detected physical memory and the budget derived from it.
func (s *Sink) Startup(totalMemory, budgetPages uint64) {
	s.logger.Infof("system reports %d bytes (%d GB) of memory, using up to half (%d pages)",
		totalMemory, totalMemory>>30, budgetPages)
}

// Counters logs a population-count snapshot. Called after every page-state
// transition so the mapped/on-disk/free split can be watched as it evolves.
func (s *Sink) Counters(nmapped, nondisk, nfree uint64) {
	s.logger.Debugf("nmapped=%d nondisk=%d nfree=%d", nmapped, nondisk, nfree)
}

// Cursors logs a cursor-position snapshot. Called at the top of every loop
// iteration.
func (s *Sink) Cursors(read, write paddr.Addr) {
	s.logger.Debugf("rpos=%d+%d wpos=%d+%d", read.Idx, read.Off, write.Idx, write.Off)
}

// EOF reports that stdin has reported end-of-input.
func (s *Sink) EOF() {
	s.logger.Infof("end of input")
}

// OutOfMemory reports that an anonymous allocation hit ENOMEM and the
// budget has collapsed to zero for the remainder of the run.
func (s *Sink) OutOfMemory() {
	s.logger.Warnf("out of memory, resetting nfree to 0")
}

// HeadroomReleased reports that the headroom reserve has been released to
// make room for the spill path.
func (s *Sink) HeadroomReleased() {
	s.logger.Infof("using headroom")
}

// Wrote reports a successful write to stdout of n bytes.
func (s *Sink) Wrote(n int) {
	s.logger.Debugf("wrote %d bytes", n)
}

// Read reports a successful read from stdin of n bytes.
func (s *Sink) Read(n int) {
	s.logger.Debugf("read %d bytes", n)
}
