package stringinterner

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// StringInterner deduplicates strings with equal value but different backing arrays.
// Log analysis sees the same stream names, connection labels and field values millions of times,
// so interning them keeps the per-record allocations from being retained.
//
// Only the most recently interned strings are kept, bounded by the LRU size.
type StringInterner struct {
	lru *lru.Cache
}

// New returns a new *StringInterner backed by a LRU of the given size.
func New(cacheSize uint32) (*StringInterner, error) {
	cache, err := lru.New(int(cacheSize))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &StringInterner{lru: cache}, nil
}

// Intern returns the cached copy of s, caching s if it wasn't already present.
func (interner *StringInterner) Intern(s string) string {
	if existing, ok, _ := interner.lru.PeekOrAdd(s, s); ok {
		return existing.(string)
	}
	return s
}

// InternAll interns every element of ss in place.
func (interner *StringInterner) InternAll(ss []string) {
	for i, s := range ss {
		ss[i] = interner.Intern(s)
	}
}

// Len returns the number of strings currently cached.
func (interner *StringInterner) Len() int {
	return interner.lru.Len()
}
