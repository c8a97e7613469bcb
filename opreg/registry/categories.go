package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/armon/go-radix"
)

// CategoryIndex maps category paths to record positions with a radix tree,
// so a menu prefix such as "Convert" finds every operator filed below it.
type CategoryIndex struct {
	mu    sync.RWMutex
	tree  *radix.Tree
	count int
}

// NewCategoryIndex creates an empty index.
func NewCategoryIndex() *CategoryIndex {
	return &CategoryIndex{tree: radix.New()}
}

// Insert files record position i under path.
func (c *CategoryIndex) Insert(path []string, i int) {
	key := categoryKey(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	var positions []uint32
	if v, ok := c.tree.Get(key); ok {
		positions = v.([]uint32)
	}
	c.tree.Insert(key, append(positions, uint32(i)))
	c.count++
}

// Prefix returns the record positions whose category path starts with
// prefix, in ascending order. An empty prefix matches everything.
func (c *CategoryIndex) Prefix(prefix string) []uint32 {
	p := strings.Trim(normalizeCategory(prefix), "/")
	if p != "" {
		p += "/"
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []uint32
	c.tree.WalkPrefix(p, func(_ string, v interface{}) bool {
		out = append(out, v.([]uint32)...)
		return false
	})
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Paths returns every distinct category path, in lexical order. Records
// filed directly under their scope have no path and are not listed.
func (c *CategoryIndex) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	c.tree.Walk(func(k string, _ interface{}) bool {
		if p := strings.TrimSuffix(k, "/"); p != "" {
			out = append(out, p)
		}
		return false
	})
	return out
}

// Len returns the number of positions indexed.
func (c *CategoryIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// categoryKey joins path with a trailing separator so "Math" never matches
// "Mathematics" as a prefix.
func categoryKey(path []string) string {
	parts := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.Trim(normalizeCategory(p), "/")
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/") + "/"
}

func normalizeCategory(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\\", "/")
}
