package storage

import (
	"bytes"
	"errors"
	"sort"
)

// Cache buffers writes on top of a parent database until Commit is called.
// The host runtime opens one cache per invocation so a failed invocation
// leaves no partial state behind.
type Cache struct {
	parent  Database
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewCache wraps parent with an empty write buffer.
func NewCache(parent Database) *Cache {
	return &Cache{
		parent:  parent,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (c *Cache) Put(key []byte, value []byte) error {
	k := string(key)
	delete(c.deletes, k)
	c.writes[k] = append([]byte(nil), value...)
	return nil
}

func (c *Cache) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, gone := c.deletes[k]; gone {
		return nil, ErrNotFound
	}
	if value, ok := c.writes[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return c.parent.Get(key)
}

func (c *Cache) Delete(key []byte) error {
	k := string(key)
	delete(c.writes, k)
	c.deletes[k] = struct{}{}
	return nil
}

func (c *Cache) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	merged := make(map[string][]byte)
	err := c.parent.Iterate(prefix, func(key, value []byte) bool {
		merged[string(key)] = value
		return true
	})
	if err != nil {
		return err
	}
	for k, v := range c.writes {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}
	for k := range c.deletes {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), append([]byte(nil), merged[k]...)) {
			return nil
		}
	}
	return nil
}

// Commit flushes the buffered writes into the parent and resets the cache.
func (c *Cache) Commit() error {
	keys := make([]string, 0, len(c.deletes))
	for k := range c.deletes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.parent.Delete([]byte(k)); err != nil {
			return err
		}
	}
	keys = keys[:0]
	for k := range c.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.parent.Put([]byte(k), c.writes[k]); err != nil {
			return err
		}
	}
	c.Discard()
	return nil
}

// Discard drops every buffered write.
func (c *Cache) Discard() {
	c.writes = make(map[string][]byte)
	c.deletes = make(map[string]struct{})
}

// Close is a no-op; the parent owns the underlying handle.
func (c *Cache) Close() {}

// Prefixed scopes every key of the parent under a fixed namespace.
type Prefixed struct {
	parent Database
	prefix []byte
}

// NewPrefixed returns a view of parent restricted to the prefix namespace.
func NewPrefixed(parent Database, prefix []byte) *Prefixed {
	return &Prefixed{parent: parent, prefix: append([]byte(nil), prefix...)}
}

func (p *Prefixed) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	out = append(out, p.prefix...)
	return append(out, k...)
}

func (p *Prefixed) Put(key []byte, value []byte) error { return p.parent.Put(p.key(key), value) }

func (p *Prefixed) Get(key []byte) ([]byte, error) { return p.parent.Get(p.key(key)) }

func (p *Prefixed) Delete(key []byte) error { return p.parent.Delete(p.key(key)) }

func (p *Prefixed) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return p.parent.Iterate(p.key(prefix), func(key, value []byte) bool {
		return fn(key[len(p.prefix):], value)
	})
}

func (p *Prefixed) Close() {}

// IsNotFound reports whether err signals a missing key.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
