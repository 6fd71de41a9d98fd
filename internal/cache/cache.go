// Package cache provides a small in-memory LRU with TTL used to cache
// per-user summary responses.
package cache

import "time"

// Cache is a generic key/value cache.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// DeletePrefix drops every key starting with prefix. Summary entries
	// are keyed "<userID>:<kind>", so one call invalidates a user.
	DeletePrefix(prefix string)
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Janitor periodically sweeps expired entries out of registered caches.
type Janitor struct {
	caches []Cleaner
	stop   chan struct{}
	done   chan struct{}
}

func NewJanitor() *Janitor {
	return &Janitor{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Register adds a cache to the sweep set. Not safe to call after Start.
func (j *Janitor) Register(cache Cleaner) {
	j.caches = append(j.caches, cache)
}

// Start begins periodic cleanup until Stop is called.
func (j *Janitor) Start(interval time.Duration) {
	go func() {
		defer close(j.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, c := range j.caches {
					c.CleanExpired()
				}
			case <-j.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}
