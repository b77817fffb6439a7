package player

import (
	"context"
	"time"
)

const (
	// DefaultBanner is written verbatim, padded with zero bytes, at the
	// start of every accepted connection (spec.md §6 "Banner").
	DefaultBanner = "PLAYERv1"
	// DefaultBannerSize is the fixed wire size of the banner.
	DefaultBannerSize = 32

	// DefaultMaxQueueLen is the default length bound of each client
	// connection's outbound queue.
	DefaultMaxQueueLen = 64
	// DefaultMaxBodyLen bounds an accepted message body; Decode clips a
	// larger body to this length and skips the rest of it.
	DefaultMaxBodyLen = 1 << 16
	// DefaultIdleTimeout closes a connection that sends nothing at all
	// (not even a SYNCH-eligible request) for this long.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultSynchInterval is the push-all/push-new batch period.
	DefaultSynchInterval = 100 * time.Millisecond
)

// Option configures a Server at construction, per the functional-options
// pattern used throughout this codebase. There is deliberately no
// file-based configuration loader: every setting is reachable only by
// composing Options, which cmd/playerd maps directly from CLI flags.
type Option func(*Config)

// Config holds every Server-wide setting. The zero value is never used
// directly; defaultConfig supplies it, and Options mutate a copy.
type Config struct {
	ctx    context.Context
	cancel context.CancelFunc

	listenAddrs []string
	banner      string
	bannerSize  int

	maxQueueLen   int
	maxBodyLen    uint32
	writeBufMax   int
	idleTimeout   time.Duration
	synchInterval time.Duration

	authKey []byte

	logger  Logger
	metrics Metrics
}

func defaultConfig() *Config {
	ctx, cancel := context.WithCancel(context.Background())
	return &Config{
		ctx:           ctx,
		cancel:        cancel,
		banner:        DefaultBanner,
		bannerSize:    DefaultBannerSize,
		maxQueueLen:   DefaultMaxQueueLen,
		maxBodyLen:    DefaultMaxBodyLen,
		writeBufMax:   4 * DefaultMaxBodyLen,
		idleTimeout:   DefaultIdleTimeout,
		synchInterval: DefaultSynchInterval,
		logger:        nopLogger{},
		metrics:       NewDefaultMetrics(),
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithListen adds one "host:port" address for the TCP frontend to bind.
// May be supplied more than once; a Server with no listen address accepts
// no client connections (useful for a bridge-only process).
func WithListen(addr string) Option {
	return func(c *Config) {
		if addr != "" {
			c.listenAddrs = append(c.listenAddrs, addr)
		}
	}
}

// WithBanner overrides the accept banner text. It is zero-padded or
// truncated to bannerSize bytes at write time.
func WithBanner(text string) Option {
	return func(c *Config) {
		if text != "" {
			c.banner = text
		}
	}
}

// WithMaxQueueLen bounds the length of each client connection's outbound
// queue. A driver's inbound queue takes its bound from RegisterDriver's
// maxInbound instead.
func WithMaxQueueLen(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.maxQueueLen = n
		}
	}
}

// WithMaxBodyLen bounds the accepted message body size.
func WithMaxBodyLen(n uint32) Option {
	return func(c *Config) {
		if n > 0 {
			c.maxBodyLen = n
		}
	}
}

// writeBufCap bounds how far a connection's outbound write buffer grows
// before a slow-flush message is dropped with a warning instead.
func (c *Config) writeBufCap() int { return c.writeBufMax }

// WithIdleTimeout sets the per-connection idle timeout. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.idleTimeout = d
		}
	}
}

// WithSynchInterval sets the batch period for the push-all and push-new
// delivery modes.
func WithSynchInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.synchInterval = d
		}
	}
}

// WithAuthKey requires every connection to present key via the auth
// control message before any other message is accepted. Nil or empty
// disables the requirement (the default).
func WithAuthKey(key []byte) Option {
	return func(c *Config) {
		c.authKey = append([]byte(nil), key...)
	}
}

// WithLogger installs the Logger every component derives its sub-logger
// from via Logger.With.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics installs a custom Metrics sink. If not provided, a
// DefaultMetrics backed by atomic counters is used.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithContext sets the base context a Server shuts down on cancellation
// of, in addition to an explicit Stop call.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.ctx, c.cancel = context.WithCancel(ctx)
		}
	}
}
