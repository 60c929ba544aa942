package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Repository loads and saves a whole collection at once.
type Repository[T any] interface {
	Load(ctx context.Context) ([]T, error)
	SaveAll(ctx context.Context, items []T) error
}

// Collection is a Repository that keeps its items as a JSON array under one key.
type Collection[T any] struct {
	kv  KV
	key string
}

// NewCollection binds a collection to key in kv.
func NewCollection[T any](kv KV, key string) *Collection[T] {
	return &Collection[T]{kv: kv, key: key}
}

// Load returns every stored item. A missing key yields an empty slice.
func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	raw, err := c.kv.Get(ctx, c.key)
	if errors.Is(err, ErrNotFound) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", c.key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// SaveAll replaces the stored collection with items.
func (c *Collection[T]) SaveAll(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.key, err)
	}
	return c.kv.Set(ctx, c.key, raw)
}

// Setting is a single string value stored under one key.
type Setting struct {
	kv  KV
	key string
}

// NewSetting binds a scalar setting to key in kv.
func NewSetting(kv KV, key string) *Setting {
	return &Setting{kv: kv, key: key}
}

// Get returns the stored value, or "" when unset.
func (s *Setting) Get(ctx context.Context) (string, error) {
	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Set stores value. A blank value clears the setting.
func (s *Setting) Set(ctx context.Context, value string) error {
	if strings.TrimSpace(value) == "" {
		return s.kv.Delete(ctx, s.key)
	}
	return s.kv.Set(ctx, s.key, []byte(value))
}
