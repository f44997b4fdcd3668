// Package jitcache maps entry_pc to CompiledTrace, plus a permanent
// blacklist of PCs that aborted during recording. It owns every
// CompiledTrace and therefore every executable memory page it backs.
package jitcache

import (
	"sync"

	"tracejit/internal/diag"
)

// CompiledTrace is a handle owning executable memory holding native
// code, the relocation-resolved entry address, and a descriptor of the
// calling convention used. The core is single-threaded, so no locking
// is done around a CompiledTrace itself - only the cache's own maps are
// guarded, by Cache's mutex.
type CompiledTrace struct {
	EntryPC int
	// Invoke calls into the compiled native blob with a pointer to the
	// flattened locals array and the auxiliary table, returning the PC
	// the interpreter should resume at. Supplied by internal/codegen;
	// kept as a function value here so jitcache never imports the code
	// generator or native-memory packages - dependencies flow one way,
	// from codegen to cache, never the reverse.
	Invoke func(localsPtr, auxPtr uintptr) int32

	// Release frees the underlying executable pages. Called exactly
	// once: at cache teardown, or by Install right away if this trace
	// loses a first-install-wins collision.
	Release func() error
}

// Cache is keyed by entry_pc. The single-threaded interpretation model
// means the mutex below is defensive only: it serializes access to a
// Cache built by New, and concurrent installation is not a supported
// use. The zero value has nil maps and is not usable; build one with
// New. The cache does not refuse to Install a blacklisted pc.
type Cache struct {
	mu        sync.Mutex
	installed map[int]*CompiledTrace
	blacklist map[int]struct{}
}

func New() *Cache {
	return &Cache{
		installed: make(map[int]*CompiledTrace),
		blacklist: make(map[int]struct{}),
	}
}

// Lookup returns the compiled trace installed for pc, if any - O(1)
// expected.
func (c *Cache) Lookup(pc int) (*CompiledTrace, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.installed[pc]
	return ct, ok
}

// Install registers a compiled trace for pc. First installation wins:
// if pc is already installed, the new compiled trace is dropped and its
// Release is invoked immediately so its executable pages don't leak.
func (c *Cache) Install(pc int, ct *CompiledTrace) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.installed[pc]; exists {
		diag.Log.WithField("entry_pc", pc).Debug("jitcache: install collision, keeping first installation")
		if ct.Release != nil {
			if err := ct.Release(); err != nil {
				diag.Log.WithField("entry_pc", pc).WithError(err).Warn("jitcache: failed to release discarded compiled trace")
			}
		}
		return
	}
	c.installed[pc] = ct
	diag.Log.WithField("entry_pc", pc).Info("jitcache: installed compiled trace")
}

// Blacklist marks pc as permanently un-recordable.
func (c *Cache) Blacklist(pc int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blacklist[pc] = struct{}{}
}

// IsBlacklisted reports whether pc was blacklisted.
func (c *Cache) IsBlacklisted(pc int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.blacklist[pc]
	return ok
}

// IsInstalled is the narrow predicate the profiler needs to check
// whether a target already has a compiled trace, without handing it
// the compiled trace itself.
func (c *Cache) IsInstalled(pc int) bool {
	_, ok := c.Lookup(pc)
	return ok
}

// Teardown releases every executable region the cache owns. A compiled
// trace's native pages live until the cache itself is torn down.
func (c *Cache) Teardown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for pc, ct := range c.installed {
		if ct.Release == nil {
			continue
		}
		if err := ct.Release(); err != nil && firstErr == nil {
			firstErr = err
			diag.Log.WithField("entry_pc", pc).WithError(err).Warn("jitcache: failed to release compiled trace during teardown")
		}
	}
	c.installed = make(map[int]*CompiledTrace)
	return firstErr
}
