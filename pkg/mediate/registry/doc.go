// Package registry provides a concurrent, read-mostly map keyed by any
// comparable type.
//
// The dispatcher uses it to memoize composed pipelines by request type:
//
//	cache := registry.New[reflect.Type, entry]()
//	e := cache.GetOrCreate(reflect.TypeOf(req), func() entry {
//	    return build(req)
//	})
//
// GetOrCreate is atomic: the factory runs at most once per key even when
// many goroutines miss the cache at the same time. Lookups after the first
// build only take the read lock.
//
// Snapshot copies the current entries so callers can freeze a registry
// into an immutable view.
package registry
