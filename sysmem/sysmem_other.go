//go:build !linux

package sysmem

// System returns a stub provider on platforms without a memory-info
// implementation; adaptive consumers fall back to fixed budgets.
func System() Provider {
	return unsupportedProvider{}
}

type unsupportedProvider struct{}

func (unsupportedProvider) Available() (uint64, error) {
	return 0, ErrUnavailable
}

func (unsupportedProvider) Total() (uint64, error) {
	return 0, ErrUnavailable
}
