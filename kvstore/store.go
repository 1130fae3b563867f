// Package kvstore provides the durable key/value storage modules keep their settings in.
//
// A Store persists raw values under slash-separated keys such as
// "modules/member-log/guilds/1234/channel". Config layers typed access on top of
// a Store, encoding values as YAML, and scopes keys by path so that each module
// and guild gets its own namespace.
package kvstore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store is a durable mapping from key to raw value.
type Store interface {
	// Get returns the value stored under key. The boolean is false when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, replacing any previous value atomically.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// Config provides typed access to the keys below a path of a Store.
type Config struct {
	store  Store
	prefix string
}

// NewConfig creates a Config rooted at the given path segments of store.
func NewConfig(store Store, segments ...string) *Config {
	return &Config{
		store:  store,
		prefix: join(segments...),
	}
}

// Sub returns a Config scoped below the given path segments.
func (c *Config) Sub(segments ...string) *Config {
	return &Config{
		store:  c.store,
		prefix: join(append([]string{c.prefix}, segments...)...),
	}
}

// Path returns the path this Config is scoped to.
func (c *Config) Path() string {
	return c.prefix
}

// TryGet decodes the value stored under key into dst.
// It returns false without touching dst when the key does not exist.
func (c *Config) TryGet(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := c.store.Get(ctx, c.key(key))
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", c.key(key), err)
	}
	if !ok {
		return false, nil
	}

	if err := yaml.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", c.key(key), err)
	}
	return true, nil
}

// Set encodes value and stores it under key.
func (c *Config) Set(ctx context.Context, key string, value any) error {
	raw, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.key(key), err)
	}

	if err := c.store.Put(ctx, c.key(key), raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.key(key), err)
	}
	return nil
}

// Remove deletes key.
func (c *Config) Remove(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, c.key(key)); err != nil {
		return fmt.Errorf("failed to remove %s: %w", c.key(key), err)
	}
	return nil
}

// GetOr returns the value stored under key, or def when the key does not exist.
func GetOr[T any](ctx context.Context, c *Config, key string, def T) (T, error) {
	var v T
	ok, err := c.TryGet(ctx, key, &v)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

func (c *Config) key(key string) string {
	return join(c.prefix, key)
}

func join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return path.Join(parts...)
}
