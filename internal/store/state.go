package store

// PersistLoaded reports whether the local cache has been read into memory.
// List is only meaningful once this is true; consumers render a loading state
// until then.
func (s *Store[T]) PersistLoaded() bool { return s.persistLoaded.Load() }

// RemoteLoaded reports whether remote reconciliation completed at least once
// since process start.
func (s *Store[T]) RemoteLoaded() bool { return s.remoteLoaded.Load() }

// Loading derives the single signal the UI layer consumes.
func (s *Store[T]) Loading() bool {
	return !s.persistLoaded.Load() || (s.syncEnabled && !s.remoteLoaded.Load())
}

// OnRemoteLoaded registers fn to run on the remote-loaded transition. The
// transition fires hooks exactly once per process, not once per row event;
// this is the debounce the reconciliation sweep relies on. Registering after
// the transition runs fn immediately.
func (s *Store[T]) OnRemoteLoaded(fn func()) {
	s.subMu.Lock()
	loaded := s.remoteLoaded.Load()
	if !loaded {
		s.remoteHooks = append(s.remoteHooks, fn)
	}
	s.subMu.Unlock()

	if loaded {
		fn()
	}
}

// MarkRemoteLoaded records that a remote pass finished. Only the first call
// transitions the flag and fires hooks; later passes are no-ops here.
func (s *Store[T]) MarkRemoteLoaded() {
	if !s.remoteLoaded.CompareAndSwap(false, true) {
		return
	}

	s.subMu.Lock()
	hooks := s.remoteHooks
	s.remoteHooks = nil
	s.subMu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
