package vmemcached

import (
	"context"
	"time"
)

// GetValue gets key and decodes it into a T with the client's codec.
func GetValue[T any](ctx context.Context, c *Client, key string) (T, error) {
	var value T

	item, err := c.Get(ctx, key)
	if err != nil {
		return value, err
	}

	err = c.codec.Decode(item.Value, &value)
	return value, err
}

// SetValue encodes value with the client's codec and stores it at key.
func SetValue[T any](ctx context.Context, c *Client, key string, value T, ttl time.Duration) error {
	data, err := c.codec.Encode(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, Item{Key: key, Value: data, TTL: ttl})
}
