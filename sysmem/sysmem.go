// Package sysmem reads system memory availability for adaptive cache
// budgeting. The Provider interface keeps the cache logic platform
// independent and unit-testable with a fake.
package sysmem

import (
	"bytes"
	"errors"
	"strconv"
)

// ErrUnavailable is returned when memory information cannot be read on
// this platform; callers fall back to conservative fixed budgets.
var ErrUnavailable = errors.New("sysmem: memory info unavailable")

// Provider reports system memory, in bytes.
type Provider interface {
	// Available is the memory the kernel considers reclaimable for new
	// allocations (free + caches), not strictly free memory.
	Available() (uint64, error)

	// Total is the total physical memory.
	Total() (uint64, error)
}

// Device memory tiers, by total RAM.
const (
	tierConstrained = 256 << 20
	tierNormal      = 512 << 20

	budgetConstrained = 4 << 20
	budgetNormal      = 16 << 20
	budgetGood        = 32 << 20
)

// TierBudget picks a default cache budget from the device's total RAM:
// 4 MiB below 256 MiB, 16 MiB below 512 MiB, 32 MiB above. When total
// RAM is unknown it returns the normal tier.
func TierBudget(p Provider) int64 {
	total, err := p.Total()
	if err != nil || total == 0 {
		return budgetNormal
	}
	switch {
	case total < tierConstrained:
		return budgetConstrained
	case total < tierNormal:
		return budgetNormal
	default:
		return budgetGood
	}
}

// Fake is a settable Provider for tests.
type Fake struct {
	AvailableBytes uint64
	TotalBytes     uint64
	Err            error
}

func (f *Fake) Available() (uint64, error) {
	return f.AvailableBytes, f.Err
}

func (f *Fake) Total() (uint64, error) {
	return f.TotalBytes, f.Err
}

// meminfoValue extracts a "Key:  12345 kB" entry from /proc/meminfo
// content, returning bytes.
func meminfoValue(data []byte, key string) (uint64, bool) {
	prefix := []byte(key + ":")
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		if !bytes.HasPrefix(line, prefix) {
			continue
		}
		fields := bytes.Fields(line[len(prefix):])
		if len(fields) == 0 {
			return 0, false
		}
		kb, err := strconv.ParseUint(string(fields[0]), 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
