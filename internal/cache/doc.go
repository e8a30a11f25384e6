// Package cache holds the pieces shared by the listing cache backends:
// the delta helpers that keep cached listings coherent when a single
// object lands under a scope. Backends live in cache/memory and
// cache/redis.
package cache
