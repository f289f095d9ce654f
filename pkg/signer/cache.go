package signer

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// AddressCache maps wallet refs to addresses. It is bounded and entries
// expire after ttl.
type AddressCache struct {
	lru *expirable.LRU[string, string]
}

func NewAddressCache(maxEntries int, ttl time.Duration) *AddressCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AddressCache{lru: expirable.NewLRU[string, string](maxEntries, nil, ttl)}
}

func (c *AddressCache) Get(ref string) (string, bool) {
	return c.lru.Get(ref)
}

func (c *AddressCache) Put(ref, address string) {
	c.lru.Add(ref, address)
}

func (c *AddressCache) Len() int {
	return c.lru.Len()
}
