package graphql

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
	"sync"
)

// operationKey hashes the wire query together with its variables.
// encoding/json sorts map keys, so equal variable sets hash equally.
func operationKey(doc *Document, variables map[string]any) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(doc.Query))
	if len(variables) > 0 {
		if b, err := json.Marshal(variables); err == nil {
			_, _ = h.Write(b)
		}
	}
	return h.Sum64()
}

type cacheEntry struct {
	result    OperationResult
	typenames map[string]struct{}
}

// documentCache stores settled query results by operation key and lets live
// subscriptions learn when a mutation touched one of their typenames.
type documentCache struct {
	mu       sync.Mutex
	entries  map[uint64]cacheEntry
	byType   map[string]map[uint64]struct{}
	watchers map[uint64]map[chan struct{}]struct{}
}

func newDocumentCache() *documentCache {
	return &documentCache{
		entries:  make(map[uint64]cacheEntry),
		byType:   make(map[string]map[uint64]struct{}),
		watchers: make(map[uint64]map[chan struct{}]struct{}),
	}
}

func (c *documentCache) get(key uint64) (OperationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return OperationResult{}, false
	}
	res := e.result
	res.Data = bytes.Clone(res.Data)
	return res, true
}

// put stores res if it carries data and no error.
func (c *documentCache) put(key uint64, res OperationResult) {
	if res.Error != nil || res.Data == nil || res.HasNext {
		return
	}
	names := typenamesOf(res.Data)

	c.mu.Lock()
	defer c.mu.Unlock()
	res.Data = bytes.Clone(res.Data)
	c.entries[key] = cacheEntry{result: res, typenames: names}
	for name := range names {
		keys, ok := c.byType[name]
		if !ok {
			keys = make(map[uint64]struct{})
			c.byType[name] = keys
		}
		keys[key] = struct{}{}
	}
}

// invalidate drops every entry sharing a typename with data and signals
// their watchers. It returns the number of entries dropped.
func (c *documentCache) invalidate(data json.RawMessage) int {
	names := typenamesOf(data)
	if len(names) == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := make(map[uint64]struct{})
	for name := range names {
		for key := range c.byType[name] {
			dropped[key] = struct{}{}
		}
	}
	for key := range dropped {
		entry := c.entries[key]
		for name := range entry.typenames {
			delete(c.byType[name], key)
			if len(c.byType[name]) == 0 {
				delete(c.byType, name)
			}
		}
		delete(c.entries, key)
		for ch := range c.watchers[key] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
	return len(dropped)
}

// watch registers interest in key. The returned channel receives a signal
// when the entry is invalidated; release must be called when done.
func (c *documentCache) watch(key uint64) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	set, ok := c.watchers[key]
	if !ok {
		set = make(map[chan struct{}]struct{})
		c.watchers[key] = set
	}
	set[ch] = struct{}{}
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers[key], ch)
		if len(c.watchers[key]) == 0 {
			delete(c.watchers, key)
		}
	}
}

// typenamesOf collects every __typename value found in data.
func typenamesOf(data json.RawMessage) map[string]struct{} {
	names := make(map[string]struct{})
	if len(data) == 0 {
		return names
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return names
	}
	collectTypenames(v, names)
	return names
}

func collectTypenames(v any, names map[string]struct{}) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if k == typenameField {
				if s, ok := child.(string); ok && s != "" {
					names[s] = struct{}{}
				}
				continue
			}
			collectTypenames(child, names)
		}
	case []any:
		for _, child := range t {
			collectTypenames(child, names)
		}
	}
}
