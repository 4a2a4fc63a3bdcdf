package retry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// ShouldRetry decides whether err is transient. nil retries every error.
	ShouldRetry func(err error) bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

func normalize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return cfg
}

// NewPolicy builds a jittered exponential backoff policy.
func NewPolicy[R any](cfg Config) retrypolicy.RetryPolicy[R] {
	cfg = normalize(cfg)
	builder := retrypolicy.NewBuilder[R]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		ReturnLastFailure()

	if cfg.ShouldRetry != nil {
		builder = builder.HandleIf(func(_ R, err error) bool {
			return err != nil && cfg.ShouldRetry(err)
		})
	}

	return builder.Build()
}

// Get runs fn under cfg's retry policy.
func Get[R any](ctx context.Context, cfg Config, fn func() (R, error)) (R, error) {
	return failsafe.With[R](NewPolicy[R](cfg)).WithContext(ctx).Get(fn)
}

// Run is Get for functions without a result.
func Run(ctx context.Context, cfg Config, fn func() error) error {
	_, err := Get[any](ctx, cfg, func() (any, error) {
		return nil, fn()
	})
	return err
}
