package projection

import "fmt"

// Aggregate is caller state that absorbs decoded projections one at a time.
type Aggregate[V any] interface {
	Merge(V) error
}

type MergeFunc[V any] func(V) error

func (f MergeFunc[V]) Merge(v V) error { return f(v) }

// Vec collects projections in the order they are merged.
type Vec[V any] []V

func (v *Vec[V]) Merge(x V) error {
	*v = append(*v, x)
	return nil
}

// Reduce decodes each item through r and merges it into agg, in order. It
// stops at the first decode or merge error. Merges already applied are kept.
func Reduce[V any](r *Registry[V], agg Aggregate[V], items []Item) error {
	for i, item := range items {
		v, err := r.Decode(item)
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		if err := agg.Merge(v); err != nil {
			return fmt.Errorf("merge item %d: %w", i, err)
		}
	}
	return nil
}
