package driftbus

import (
	"sort"
	"sync"
)

// soloEntry defers construction to first use so that concurrent Solo calls
// for the same scope construct exactly one bus.
type soloEntry struct {
	once sync.Once
	bus  *PubSub
	err  error
}

// soloRegistry is the process-wide scope registry. It is unexported: the
// only way to obtain a scoped singleton is through the Solo functions.
type soloRegistry struct {
	mu     sync.Mutex
	scopes map[string]*soloEntry
}

var solo = &soloRegistry{scopes: make(map[string]*soloEntry)}

// Solo returns the singleton bus for the given scope, constructing it with
// opts on first use. Options passed on later calls for an
// already-initialized scope are silently ignored. An empty scope is a value
// error.
func Solo(scope string, opts ...Option) (*PubSub, error) {
	if scope == "" {
		return nil, newError(KindValue, "solo", ErrEmptyScope)
	}

	solo.mu.Lock()
	entry, ok := solo.scopes[scope]
	if !ok {
		entry = &soloEntry{}
		solo.scopes[scope] = entry
	}
	solo.mu.Unlock()

	entry.once.Do(func() {
		entry.bus, entry.err = New(opts...)
	})
	if entry.err != nil {
		// Failed construction must not poison the scope.
		solo.mu.Lock()
		if solo.scopes[scope] == entry {
			delete(solo.scopes, scope)
		}
		solo.mu.Unlock()
		return nil, entry.err
	}
	return entry.bus, nil
}

// SoloInitialized reports whether the scope currently holds a live bus.
func SoloInitialized(scope string) bool {
	solo.mu.Lock()
	defer solo.mu.Unlock()
	entry, ok := solo.scopes[scope]
	return ok && entry.bus != nil && !entry.bus.IsShutdown()
}

// SoloScopes returns a sorted snapshot of every initialized scope.
func SoloScopes() []string {
	solo.mu.Lock()
	defer solo.mu.Unlock()
	scopes := make([]string, 0, len(solo.scopes))
	for scope := range solo.scopes {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// SoloShutdown shuts down the scope's bus, if any, and removes the scope
// from the registry so a later Solo call constructs a fresh instance. It is
// a no-op for unknown scopes.
func SoloShutdown(scope string) {
	solo.mu.Lock()
	entry, ok := solo.scopes[scope]
	if ok {
		delete(solo.scopes, scope)
	}
	solo.mu.Unlock()

	if ok && entry.bus != nil {
		entry.bus.Shutdown()
	}
}
