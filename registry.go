package heaputils

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

// Registry tracks a set of independently-managed heaps by name. It exists to support
// consumers that maintain more than one heap at a time (one per subsystem, one per test,
// and so on) and want a single place to enumerate or validate all of them. It performs
// no synchronization of its own, matching the single-caller model of the heaps it holds.
type Registry[T Validatable] struct {
	heaps *swiss.Map[string, T]
}

func NewRegistry[T Validatable]() *Registry[T] {
	return &Registry[T]{
		heaps: swiss.NewMap[string, T](8),
	}
}

// Register adds a heap to the registry under the provided name, replacing any heap
// previously registered under that name.
func (r *Registry[T]) Register(name string, heap T) {
	r.heaps.Put(name, heap)
}

// Unregister removes the named heap from the registry and returns whether a heap
// was registered under that name. The heap itself is not cleaned up.
func (r *Registry[T]) Unregister(name string) bool {
	return r.heaps.Delete(name)
}

// Heap retrieves the heap registered under the provided name, or HeapNotFoundError
// if no heap is registered under it.
func (r *Registry[T]) Heap(name string) (T, error) {
	heap, ok := r.heaps.Get(name)
	if !ok {
		return heap, cerrors.Wrapf(HeapNotFoundError, "name is %s", name)
	}
	return heap, nil
}

func (r *Registry[T]) Count() int {
	return r.heaps.Count()
}

// Each calls the provided callback once per registered heap, stopping early if the
// callback returns true. Iteration order is not specified.
func (r *Registry[T]) Each(visit func(name string, heap T) (stop bool)) {
	r.heaps.Iter(visit)
}

// Validate runs Validate on every registered heap and returns the first failure,
// wrapped with the name of the offending heap.
func (r *Registry[T]) Validate() error {
	var err error
	r.heaps.Iter(func(name string, heap T) bool {
		heapErr := heap.Validate()
		if heapErr != nil {
			err = cerrors.Wrapf(heapErr, "heap %s failed validation", name)
			return true
		}
		return false
	})

	return err
}
