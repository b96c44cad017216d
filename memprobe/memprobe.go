// Package memprobe reports total installed physical memory. The bootstrap
// calls this exactly once, to size the anonymous memory budget before the
// loop starts.
package memprobe

import (
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// TotalBytes queries /proc/meminfo under mountPoint (use
// procfs.DefaultMountPoint for the usual "/proc") for the system's total
// installed RAM, in bytes. Failure is always fatal to the caller; there is
// no fallback source.
func TotalBytes(mountPoint string) (uint64, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return 0, errors.Wrap(err, "memprobe: opening procfs")
	}

	info, err := fs.Meminfo()
	if err != nil {
		return 0, errors.Wrap(err, "memprobe: reading meminfo")
	}
	if info.MemTotal == nil {
		return 0, errors.New("memprobe: meminfo has no MemTotal field")
	}

	// MemTotal is reported in kB by /proc/meminfo.
	return *info.MemTotal * 1024, nil
}
