package pff

import (
	"github.com/sirupsen/logrus"
)

// Option configures an Engine at open time: cache sizes, an abort hook,
// and a logger.
type Option func(*config)

type config struct {
	log            *logrus.Logger
	indexCacheSize int
	blockCacheSize int
	arrayCacheSize int
	abort          func() bool
}

func defaultConfig() *config {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return &config{
		log:            log,
		indexCacheSize: 32,
		blockCacheSize: 32,
		arrayCacheSize: 8,
		abort:          nil,
	}
}

// WithLogger overrides the engine's logger. The default is a silent-unless-
// warning logrus.Logger, so corruption gets logged without being noisy
// by default.
func WithLogger(log *logrus.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithIndexCacheSize overrides the descriptors/offsets index page cache
// size (default 32).
func WithIndexCacheSize(n int) Option {
	return func(c *config) { c.indexCacheSize = n }
}

// WithBlockCacheSize overrides the data-block cache size (default 32).
func WithBlockCacheSize(n int) Option {
	return func(c *config) { c.blockCacheSize = n }
}

// WithArrayCacheSize overrides each data array's child-block cache size
// (default 8).
func WithArrayCacheSize(n int) Option {
	return func(c *config) { c.arrayCacheSize = n }
}

// WithAbort installs a cooperative abort predicate, checked at every page
// boundary in recovery scans and at each sub-node descent in lookups.
func WithAbort(fn func() bool) Option {
	return func(c *config) { c.abort = fn }
}

// RecoverFlags controls the recovery scanner.
type RecoverFlags struct {
	// IgnoreAllocationData scans the whole container rather than
	// restricting phase A to the caller's reported unallocated ranges.
	IgnoreAllocationData bool
	// ScanForFragments additionally runs phase B, the orphan data-block
	// footer scan.
	ScanForFragments bool
}
