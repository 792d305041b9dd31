package gpu

import "sync"

// Arena owns device objects. Every object is registered with the
// function that destroys it; DestroyAll runs those functions in reverse
// registration order, child arenas first.
type Arena struct {
	reg      *registry
	order    []uint64
	destroy  map[uint64]func()
	children []*Arena
}

type registry struct {
	mu   sync.Mutex
	next uint64
	objs map[uint64]any
}

// NewArena returns an empty root arena.
func NewArena() *Arena {
	return &Arena{
		reg:     &registry{objs: make(map[uint64]any)},
		destroy: make(map[uint64]func()),
	}
}

// Child returns an arena whose objects share ids with a and are
// destroyed before a's own.
func (a *Arena) Child() *Arena {
	c := &Arena{reg: a.reg, destroy: make(map[uint64]func())}
	a.children = append(a.children, c)
	return c
}

// Register takes ownership of obj and returns its id. destroy may be nil
// for objects freed together with their parent (descriptor sets, command
// buffers of a pool that is itself registered).
func (a *Arena) Register(obj any, destroy func()) uint64 {
	a.reg.mu.Lock()
	a.reg.next++
	id := a.reg.next
	a.reg.objs[id] = obj
	a.reg.mu.Unlock()

	a.order = append(a.order, id)
	if destroy != nil {
		a.destroy[id] = destroy
	}
	return id
}

// Lookup returns the object registered as id in any arena sharing a's
// ids, or false if it is unknown or not a T.
func Lookup[T any](a *Arena, id uint64) (T, bool) {
	a.reg.mu.Lock()
	obj, ok := a.reg.objs[id]
	a.reg.mu.Unlock()
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := obj.(T)
	return v, ok
}

// Release destroys a single object registered in a.
func (a *Arena) Release(id uint64) {
	for i, o := range a.order {
		if o == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			a.drop(id)
			return
		}
	}
}

// Len returns the number of live objects registered directly in a.
func (a *Arena) Len() int { return len(a.order) }

// DestroyAll destroys every object in a and its children. The arena can
// be reused afterwards.
func (a *Arena) DestroyAll() {
	for i := len(a.children) - 1; i >= 0; i-- {
		a.children[i].DestroyAll()
	}
	for i := len(a.order) - 1; i >= 0; i-- {
		a.drop(a.order[i])
	}
	a.order = a.order[:0]
}

func (a *Arena) drop(id uint64) {
	if fn, ok := a.destroy[id]; ok {
		fn()
		delete(a.destroy, id)
	}
	a.reg.mu.Lock()
	delete(a.reg.objs, id)
	a.reg.mu.Unlock()
}
