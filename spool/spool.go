// Package spool maps a page index to the filesystem path of the temporary
// file that backs it once a page spills out of memory.
package spool

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
)

// maxPathLen bounds a spool path the same way the C original's PATH_MAX
// buffer does; x/sys/unix does not export PATH_MAX as a portable constant,
// so this mirrors the Linux value.
const maxPathLen = 4096

// Provider deterministically maps a page index to a spool file path under
// Dir, named "<Prefix>.<idx>". Provider guarantees uniqueness of the paths
// it hands out within one process instance; collisions with a prior run's
// leftovers are the operator's problem — nothing here scans Dir on startup.
type Provider struct {
	Dir    string
	Prefix string
}

// New returns a Provider rooted at dir, naming files "<prefix>.<idx>".
func New(dir, prefix string) *Provider {
	return &Provider{Dir: dir, Prefix: prefix}
}

// PathOf returns the spool file path for page idx. It fails only if the
// resulting path would exceed the compile-time maximum path length.
func (p *Provider) PathOf(idx uint32) (string, error) {
	path := filepath.Join(p.Dir, fmt.Sprintf("%s.%d", p.Prefix, idx))
	if len(path) >= maxPathLen {
		return "", errors.Errorf("spool: path for page %d exceeds %d bytes", idx, maxPathLen)
	}
	return path, nil
}
