//go:build linux

package sysmem

import (
	"os"

	"golang.org/x/sys/unix"
)

// System returns the Linux memory provider, which prefers
// /proc/meminfo MemAvailable (accounts for reclaimable page cache) and
// falls back to sysinfo freeram.
func System() Provider {
	return linuxProvider{}
}

type linuxProvider struct{}

func (linuxProvider) Available() (uint64, error) {
	if data, err := os.ReadFile("/proc/meminfo"); err == nil {
		if b, ok := meminfoValue(data, "MemAvailable"); ok {
			return b, nil
		}
	}

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, ErrUnavailable
	}
	return uint64(si.Freeram) * uint64(si.Unit), nil
}

func (linuxProvider) Total() (uint64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err == nil {
		return uint64(si.Totalram) * uint64(si.Unit), nil
	}

	if data, err := os.ReadFile("/proc/meminfo"); err == nil {
		if b, ok := meminfoValue(data, "MemTotal"); ok {
			return b, nil
		}
	}
	return 0, ErrUnavailable
}
