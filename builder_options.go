package hashindex

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultChannels is the number of read handles opened per file when
	// WithChannels is not given.
	DefaultChannels = 5
)

// BuildOption is a functional option for configuring builds.
type BuildOption func(*buildConfig)

type buildConfig struct {
	logger *zap.Logger
	now    func() time.Time
}

func defaultBuildConfig() *buildConfig {
	return &buildConfig{
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

// WithLogger sets the logger used for build progress. Progress is logged at
// debug level; the default logger discards everything.
func WithLogger(l *zap.Logger) BuildOption {
	return func(c *buildConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the clock used for the created_at completion marker
// and the build report timings. The clock must never return the Unix epoch,
// since created_at == 0 marks an unfinished index.
func WithClock(now func() time.Time) BuildOption {
	return func(c *buildConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// ReaderOption is a functional option for configuring Open.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	channels int
	logger   *zap.Logger
}

func defaultReaderConfig() *readerConfig {
	return &readerConfig{
		channels: DefaultChannels,
		logger:   zap.NewNop(),
	}
}

// WithChannels sets how many independent read handles are opened on each of
// the data and index files. Lookups pick a handle uniformly at random.
func WithChannels(n int) ReaderOption {
	return func(c *readerConfig) {
		c.channels = n
	}
}

// WithReaderLogger sets the logger used for open-time diagnostics.
func WithReaderLogger(l *zap.Logger) ReaderOption {
	return func(c *readerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}
