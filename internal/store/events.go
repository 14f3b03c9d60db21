package store

// Op classifies a store mutation.
type Op int

const (
	OpAdd Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event describes one committed mutation. Before is the zero value for OpAdd.
// Both sides are private copies; subscribers may keep or mutate them freely.
type Event[T any] struct {
	Op     Op
	Before T
	After  T
}

// Subscribe registers fn for every subsequent mutation. Handlers run
// synchronously on the mutating goroutine, after the write has committed and
// outside the store's lock, so a handler may call into other stores. Handlers
// must not call back into the same store.
//
// Under concurrent writers two handlers may observe events out of commit
// order; downstream consumers tolerate this (reference maintenance is
// idempotent and the reconciliation sweep heals any drift).
func (s *Store[T]) Subscribe(fn func(Event[T])) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store[T]) emit(ev Event[T]) {
	s.subMu.Lock()
	subs := make([]func(Event[T]), len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
