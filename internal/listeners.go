package internal

import "sync"

// listenerSet is an ordered callback registry. Emit delivers synchronously,
// in registration order, without holding the registry lock.
type listenerSet[E any] struct {
	mu   sync.Mutex
	next int
	ids  []int
	fns  map[int]func(E)
}

// add registers fn and returns a function removing it.
func (s *listenerSet[E]) add(fn func(E)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(E))
	}
	id := s.next
	s.next++
	s.ids = append(s.ids, id)
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.fns, id)
			for i, v := range s.ids {
				if v == id {
					s.ids = append(s.ids[:i], s.ids[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *listenerSet[E]) emit(e E) {
	s.mu.Lock()
	fns := make([]func(E), 0, len(s.ids))
	for _, id := range s.ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}
