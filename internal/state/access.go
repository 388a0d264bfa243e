package state

import (
	"context"
	"strings"
)

// Resource names one or more of the store's lock domains. Values combine with |.
type Resource uint8

const (
	ResourceStatus Resource = 1 << iota
	ResourceAnalysis
	ResourceKeyStrokes

	ResourceAll = ResourceStatus | ResourceAnalysis | ResourceKeyStrokes
)

const numResources = 3

// lockOrder is the single acquisition order used whenever more than one
// resource is obtained.
var lockOrder = [numResources]Resource{ResourceStatus, ResourceAnalysis, ResourceKeyStrokes}

func (r Resource) String() string {
	var names []string
	for _, res := range lockOrder {
		if r&res == 0 {
			continue
		}
		switch res {
		case ResourceStatus:
			names = append(names, "status")
		case ResourceAnalysis:
			names = append(names, "analysis")
		case ResourceKeyStrokes:
			names = append(names, "keystrokes")
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}

func resourceIndex(r Resource) int {
	switch r {
	case ResourceStatus:
		return 0
	case ResourceAnalysis:
		return 1
	default:
		return 2
	}
}

// Access is a handle through which one goroutine holds store resources.
// Holds are re-entrant: each Obtain must be matched by a Release before the
// lock is given up. An Access must not be shared between goroutines; code
// running on another goroutine, including request callbacks, creates its own.
type Access struct {
	store      *Store
	holds      [numResources]int
	statusRead bool
}

// NewAccess returns a handle that holds nothing yet.
func (s *Store) NewAccess() *Access {
	return &Access{store: s}
}

// Obtain blocks until every resource in r is held by a.
func (a *Access) Obtain(r Resource) {
	_ = a.ObtainContext(context.Background(), r)
}

// ObtainContext is Obtain with a bound on the wait. On error nothing new is
// held by a.
func (a *Access) ObtainContext(ctx context.Context, r Resource) error {
	var taken Resource
	for _, res := range lockOrder {
		if r&res == 0 {
			continue
		}
		i := resourceIndex(res)
		if a.holds[i] == 0 {
			if err := a.store.locks[i].lock(ctx); err != nil {
				a.Release(taken)
				return err
			}
		}
		a.holds[i]++
		taken |= res
	}
	return nil
}

// Release gives up one hold on every resource in r. Releasing a resource that
// is not held is a no-op.
func (a *Access) Release(r Resource) {
	for i := numResources - 1; i >= 0; i-- {
		res := lockOrder[i]
		if r&res == 0 || a.holds[i] == 0 {
			continue
		}
		a.holds[i]--
		if a.holds[i] > 0 {
			continue
		}
		if res == ResourceStatus {
			a.statusRead = false
		}
		a.store.locks[i].unlock()
	}
}

// ObtainAll obtains every resource in the fixed order.
func (a *Access) ObtainAll() { a.Obtain(ResourceAll) }

// ReleaseAll releases one hold on every resource.
func (a *Access) ReleaseAll() { a.Release(ResourceAll) }

// Holds reports whether a currently holds every resource in r.
func (a *Access) Holds(r Resource) bool {
	if a == nil {
		return false
	}
	for _, res := range lockOrder {
		if r&res != 0 && a.holds[resourceIndex(res)] == 0 {
			return false
		}
	}
	return true
}
