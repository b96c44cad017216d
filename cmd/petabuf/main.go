// Command petabuf is a pipe filter that decouples a fast producer from a
// slow consumer (or vice versa) by spooling in-flight bytes first into
// anonymous memory and, once that budget is exhausted, into temporary
// files on local disk:
//
//	producer | petabuf | consumer
//
// Bytes leave in the exact order they arrived; no transformation is
// applied.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/common/log"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"petabuf/config"
	"petabuf/cursor"
	"petabuf/ioloop"
	"petabuf/memprobe"
	"petabuf/page"
	"petabuf/spool"
	"petabuf/telemetry"
)

func main() {
	app := kingpin.New("petabuf", "Streaming pipe buffer: producer | petabuf | consumer")
	app.UsageWriter(os.Stderr)
	app.Terminate(os.Exit)

	def := config.Default()
	spoolDir := app.Flag("spool-dir", "Directory for spilled page files.").
		Envar("PETABUF_SPOOL_DIR").Default(def.SpoolDir).String()
	pageSize := app.Flag("page-size", "Bytes per page.").
		Envar("PETABUF_PAGE_SIZE").Default(fmt.Sprint(def.PageSize)).Uint32()
	tableSize := app.Flag("table-size", "Number of slots in the page table.").
		Envar("PETABUF_TABLE_SIZE").Default(fmt.Sprint(def.TableSize)).Uint32()

	log.AddFlags(app)

	// Parse returns an error on a bad flag or stray positional argument;
	// FatalUsage prints it and the usage text to stderr, then exits 1
	// through the app.Terminate(os.Exit) hook set above.
	if _, err := app.Parse(os.Args[1:]); err != nil {
		app.FatalUsage("%s\n", err)
	}

	cfg, err := config.Resolve(config.Config{
		SpoolDir:  *spoolDir,
		PageSize:  *pageSize,
		TableSize: *tableSize,
	})
	if err != nil {
		log.Errorf("invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	sink := telemetry.New(log.Base())

	totalMemory, err := memprobe.TotalBytes(procMountPoint())
	if err != nil {
		return errors.Wrap(err, "probing memory")
	}
	budget := totalMemory / uint64(cfg.PageSize) / 2
	sink.Startup(totalMemory, budget)

	paths := spool.New(cfg.SpoolDir, "petabuf")
	pages, err := page.New(paths, sink, cfg.PageSize, cfg.TableSize, totalMemory)
	if err != nil {
		return errors.Wrap(err, "allocating page table")
	}
	defer pages.Close()

	cursors := cursor.New(cfg.PageSize, cfg.TableSize)
	loop := ioloop.New(pages, cursors, sink, int(os.Stdin.Fd()), int(os.Stdout.Fd()))

	return loop.Run()
}

// procMountPoint is the standard Linux procfs mount point. It is not
// user-configurable: the memory probe's data source isn't something an
// operator should need to redirect.
func procMountPoint() string {
	return "/proc"
}
