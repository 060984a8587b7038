// Package opt provides a present/absent wrapper for configuration values where
// "not set" must stay distinguishable from the zero value.
package opt

// Value holds an optional T. The zero Value is absent.
type Value[T any] struct {
	v  T
	ok bool
}

func Some[T any](v T) Value[T] { return Value[T]{v: v, ok: true} }

func None[T any]() Value[T] { return Value[T]{} }

// FromPtr maps nil to None and anything else to Some(*p).
func FromPtr[T any](p *T) Value[T] {
	if p == nil {
		return Value[T]{}
	}
	return Some(*p)
}

func (o Value[T]) Get() (T, bool) { return o.v, o.ok }

func (o Value[T]) Present() bool { return o.ok }

// Or returns the held value, or def when absent.
func (o Value[T]) Or(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

// Ptr returns a pointer to a copy of the held value, or nil when absent.
func (o Value[T]) Ptr() *T {
	if !o.ok {
		return nil
	}
	v := o.v
	return &v
}
