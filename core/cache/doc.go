// Package cache provides a size bounded LRU cache that is safe for
// concurrent use.
//
//	views := cache.NewLRU[PageView](cache.LRUOpts{Size: 1024})
//	views.Put("page-1", view)
//	if v, ok := views.Get("page-1"); ok {
//	    // use v
//	}
//
// Entries put with [WithTTL] expire and are evicted lazily on access.
package cache
