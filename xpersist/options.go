package xpersist

// RegionOption configures how a Region is opened.
type RegionOption func(*regionConfig)

type regionConfig struct {
	reserveVA     int
	maxDirtyPages int
	tracker       Tracker
}

// WithReserveVA reserves n bytes of virtual address space for the
// working mapping instead of DefaultReserveVA. Only meaningful for
// heap regions; globals regions are bounded by the caller's own init
// buffer instead.
func WithReserveVA(n int) RegionOption {
	return func(c *regionConfig) {
		c.reserveVA = n
	}
}

// WithMaxDirtyPages bounds the write-set of a single transaction:
// the page-entry pool and twin-page pool are sized to this many
// entries. Exceeding the bound is fatal to the offending transaction.
func WithMaxDirtyPages(n int) RegionOption {
	return func(c *regionConfig) {
		c.maxDirtyPages = n
	}
}

// WithTracker installs the attribution reporter invoked by Finalize.
// If omitted, Finalize is a no-op.
func WithTracker(t Tracker) RegionOption {
	return func(c *regionConfig) {
		c.tracker = t
	}
}

func applyRegionOptions(opts []RegionOption) regionConfig {
	cfg := regionConfig{
		reserveVA:     DefaultReserveVA,
		maxDirtyPages: DefaultMaxDirtyPages,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}
