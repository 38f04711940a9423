package condition

import (
	"strings"
)

// Context accumulates values for one execution attempt. It is never shared
// between attempts and never persisted.
type Context struct {
	values map[string]any
}

// NewContext returns a context seeded with a copy of seed.
func NewContext(seed map[string]any) *Context {
	values := make(map[string]any, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &Context{values: values}
}

func (c *Context) Set(key string, value any) {
	c.values[key] = value
}

// Lookup resolves field by exact key first, then by walking dotted segments
// through nested maps.
func (c *Context) Lookup(field string) (any, bool) {
	if c == nil {
		return nil, false
	}
	if v, ok := c.values[field]; ok {
		return v, true
	}
	parts := strings.Split(field, ".")
	if len(parts) < 2 {
		return nil, false
	}
	for split := len(parts) - 1; split >= 1; split-- {
		head := strings.Join(parts[:split], ".")
		root, ok := c.values[head]
		if !ok {
			continue
		}
		if v, ok := walk(root, parts[split:]); ok {
			return v, true
		}
	}
	return nil, false
}

// Snapshot returns a shallow copy of the accumulated values.
func (c *Context) Snapshot() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

func walk(v any, path []string) (any, bool) {
	cur := v
	for _, seg := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		next, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	default:
		return nil, false
	}
}
