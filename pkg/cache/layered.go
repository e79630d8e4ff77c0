package cache

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// LayeredCache checks a fast front cache before a slower back cache and
// promotes back-cache hits to the front.
type LayeredCache struct {
	front  Cache
	back   Cache
	logger *log.Logger
}

// NewLayeredCache stacks front over back. A nil logger discards messages.
func NewLayeredCache(front, back Cache, logger *log.Logger) *LayeredCache {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &LayeredCache{front: front, back: back, logger: logger}
}

// Get implements [Cache]. A front-cache error is treated as a miss.
func (c *LayeredCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if data, ok, err := c.front.Get(ctx, key); err == nil && ok {
		return data, true, nil
	}
	data, ok, err := c.back.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := c.front.Set(ctx, key, data, 0); err != nil {
		c.logger.Debug("front cache backfill failed", "err", err)
	}
	return data, true, nil
}

// Set implements [Cache]; the value is written to both layers.
func (c *LayeredCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return errors.Join(
		c.front.Set(ctx, key, data, ttl),
		c.back.Set(ctx, key, data, ttl),
	)
}

// Delete implements [Cache].
func (c *LayeredCache) Delete(ctx context.Context, key string) error {
	return errors.Join(c.front.Delete(ctx, key), c.back.Delete(ctx, key))
}

// Close implements [Cache].
func (c *LayeredCache) Close() error {
	return errors.Join(c.front.Close(), c.back.Close())
}

var _ Cache = (*LayeredCache)(nil)
