package foreign

import "sync"

// Ref owns an external handle and releases it exactly once.
//
// The release is deferred while the handle is borrowed: it runs when `Close`
// is called with no borrower left, or when the last borrower returns it.
type Ref[T any] struct {
	lk       sync.Mutex
	val      T
	release  func(T) error
	borrows  int
	closing  bool
	released bool
	err      error
}

// NewRef takes ownership of val. release may be nil.
func NewRef[T any](val T, release func(T) error) *Ref[T] {
	return &Ref[T]{val: val, release: release}
}

// Borrow returns the handle and the function giving it back, or false once
// the ref is closed. The returned function is idempotent.
func (r *Ref[T]) Borrow() (T, func(), bool) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if r.closing {
		var zero T
		return zero, func() {}, false
	}
	r.borrows++

	var once sync.Once
	return r.val, func() {
		once.Do(r.giveBack)
	}, true
}

func (r *Ref[T]) giveBack() {
	r.lk.Lock()
	r.borrows--
	last := r.closing && r.borrows == 0
	r.lk.Unlock()
	if last {
		r.doRelease()
	}
}

// Close releases the handle, or schedules the release after the last
// borrower. It returns the release error when the release ran now.
func (r *Ref[T]) Close() error {
	r.lk.Lock()
	if r.closing {
		r.lk.Unlock()
		return nil
	}
	r.closing = true
	now := r.borrows == 0
	r.lk.Unlock()

	if !now {
		return nil
	}
	return r.doRelease()
}

func (r *Ref[T]) doRelease() error {
	var err error
	if r.release != nil {
		err = r.release(r.val)
	}

	r.lk.Lock()
	defer r.lk.Unlock()
	var zero T
	r.val = zero
	r.released = true
	r.err = err
	return err
}

// Released reports whether the handle was released, and the error of the
// release if any.
func (r *Ref[T]) Released() (bool, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	return r.released, r.err
}

// With owns val for the duration of fn.
func With[T any](val T, release func(T) error, fn func(T) error) error {
	ref := NewRef(val, release)
	err := fn(val)
	if cerr := ref.Close(); err == nil {
		err = cerr
	}
	return err
}
