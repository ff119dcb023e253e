package layerstream

// Cache budget presets by device tier (total system RAM).
const (
	// BudgetConstrained suits sub-256MB devices (e.g. AD5M-class boards).
	BudgetConstrained = 4 << 20

	// BudgetNormal suits 256-512MB devices (Pi 3, low-end Pi 4).
	BudgetNormal = 16 << 20

	// BudgetGood suits devices with more than 512MB RAM.
	BudgetGood = 32 << 20

	// MinCacheBudget is the floor the adaptive policy never shrinks below.
	MinCacheBudget = 1 << 20
)

// DefaultPrefetchRadius is how many layers each side of the viewed
// layer are preloaded.
const DefaultPrefetchRadius = 3

// DefaultAdaptiveTargetPercent is the share of available RAM the
// adaptive cache budget aims for.
const DefaultAdaptiveTargetPercent = 15
