// Package memory keeps a short-lived view of each call's collected fields so
// the dialogue and the RAG responder can read them without a store round
// trip on every turn.
//
// Reads go through to the session store and are cached for a TTL. Values the
// agent saves locally are remembered per session and stay pending until the
// store acknowledges them. A pending value overrides what the store returns;
// once acknowledged, the store's copy is authoritative. Remembering or
// acknowledging a value drops the cached snapshot. When the store read fails,
// the locally remembered values are returned along with the error.
package memory

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/patrickmn/go-cache"
)

// Defaults for [New].
const (
	DefaultTTL             = 30 * time.Second
	DefaultCleanupInterval = time.Minute
)

// Source reads a session's collected fields. pkg/sessionstore.Store
// satisfies it.
type Source interface {
	GetCollectedData(ctx context.Context, sessionID string) (map[string]any, error)
}

// Cache is safe for concurrent use.
type Cache struct {
	source Source
	cache  *cache.Cache

	mu      sync.Mutex
	local   map[string]map[string]any
	pending map[string]map[string]any
}

// New returns a Cache reading through to source. Non-positive durations take
// the defaults.
func New(source Source, ttl, cleanupInterval time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &Cache{
		source:  source,
		cache:   cache.New(ttl, cleanupInterval),
		local:   make(map[string]map[string]any),
		pending: make(map[string]map[string]any),
	}
}

// Remember records a value the agent saved for sessionID. It stays pending
// until [Cache.Acknowledge] is called with the same value.
func (c *Cache) Remember(sessionID, field string, value any) {
	c.mu.Lock()
	set(c.local, sessionID, field, value)
	set(c.pending, sessionID, field, value)
	c.mu.Unlock()
	c.cache.Delete(sessionID)
}

// Acknowledge marks value as stored for field. A newer value remembered
// since stays pending.
func (c *Cache) Acknowledge(sessionID, field string, value any) {
	c.mu.Lock()
	if p := c.pending[sessionID]; p != nil {
		if cur, ok := p[field]; ok && reflect.DeepEqual(cur, value) {
			delete(p, field)
			if len(p) == 0 {
				delete(c.pending, sessionID)
			}
		}
	}
	c.mu.Unlock()
	c.cache.Delete(sessionID)
}

func set(m map[string]map[string]any, sessionID, field string, value any) {
	fields := m[sessionID]
	if fields == nil {
		fields = make(map[string]any)
		m[sessionID] = fields
	}
	fields[field] = value
}

// Local returns a copy of the values remembered for sessionID.
func (c *Cache) Local(sessionID string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.local[sessionID]))
	maps.Copy(out, c.local[sessionID])
	return out
}

// Collected returns the collected fields for sessionID: the store's values,
// with pending values on top and remembered values filling fields the store
// lacks. On a store error the remembered values are returned with the error.
func (c *Cache) Collected(ctx context.Context, sessionID string) (map[string]any, error) {
	if v, ok := c.cache.Get(sessionID); ok {
		return maps.Clone(v.(map[string]any)), nil
	}

	c.mu.Lock()
	local := maps.Clone(c.local[sessionID])
	pending := maps.Clone(c.pending[sessionID])
	c.mu.Unlock()
	if local == nil {
		local = make(map[string]any)
	}
	if c.source == nil {
		return local, nil
	}
	stored, err := c.source.GetCollectedData(ctx, sessionID)
	if err != nil {
		return local, fmt.Errorf("memory: read collected data: %w", err)
	}

	merged := local
	maps.Copy(merged, stored)
	maps.Copy(merged, pending)
	c.cache.SetDefault(sessionID, maps.Clone(merged))
	return merged, nil
}

// FirstName returns the caller's first name derived from full_name, or ""
// when unknown.
func (c *Cache) FirstName(ctx context.Context, sessionID string) string {
	data, _ := c.Collected(ctx, sessionID)
	name, _ := data["full_name"].(string)
	return FirstName(name)
}

// Forget drops everything held for sessionID.
func (c *Cache) Forget(sessionID string) {
	c.cache.Delete(sessionID)
	c.mu.Lock()
	delete(c.local, sessionID)
	delete(c.pending, sessionID)
	c.mu.Unlock()
}

var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "dr": true,
	"sahab": true, "sahib": true,
}

// FirstName returns the first word of fullName that is not an honorific,
// capitalised. Words containing digits are not names and yield "".
func FirstName(fullName string) string {
	for _, w := range strings.Fields(fullName) {
		w = strings.Trim(w, ".,;:!?\"'")
		if w == "" || honorifics[strings.ToLower(w)] {
			continue
		}
		if strings.ContainsFunc(w, unicode.IsDigit) {
			return ""
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		return string(r)
	}
	return ""
}
