package internal

// Set is a generic collection of unique items.
type Set[T comparable] struct {
	items map[T]struct{}
}

// NewSet creates a set holding the given items.
func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func (s *Set[T]) Add(item T) {
	s.items[item] = struct{}{}
}

func (s *Set[T]) Remove(item T) {
	delete(s.items, item)
}

func (s *Set[T]) Contains(item T) bool {
	_, exists := s.items[item]
	return exists
}

func (s *Set[T]) Size() int {
	return len(s.items)
}

// ToSlice returns the items in no particular order.
func (s *Set[T]) ToSlice() []T {
	slice := make([]T, 0, len(s.items))
	for item := range s.items {
		slice = append(slice, item)
	}
	return slice
}

func (s *Set[T]) Clear() {
	s.items = make(map[T]struct{})
}

// OrderedSet keeps unique items in first-insertion order.
type OrderedSet[T comparable] struct {
	set   *Set[T]
	order []T
}

func NewOrderedSet[T comparable]() *OrderedSet[T] {
	return &OrderedSet[T]{set: NewSet[T]()}
}

// Add appends item unless it is already present.
func (s *OrderedSet[T]) Add(item T) {
	if s.set.Contains(item) {
		return
	}
	s.set.Add(item)
	s.order = append(s.order, item)
}

// Remove deletes item, keeping the order of the rest.
func (s *OrderedSet[T]) Remove(item T) {
	if !s.set.Contains(item) {
		return
	}
	s.set.Remove(item)
	for i, v := range s.order {
		if v == item {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *OrderedSet[T]) Contains(item T) bool { return s.set.Contains(item) }
func (s *OrderedSet[T]) Size() int             { return len(s.order) }

// Items returns a copy of the items in insertion order.
func (s *OrderedSet[T]) Items() []T {
	return append([]T(nil), s.order...)
}

func (s *OrderedSet[T]) Clear() {
	s.set.Clear()
	s.order = nil
}

// MapKeys extracts all keys from a map in no particular order.
func MapKeys[K comparable, V any](m map[K]V) []K {
	if m == nil {
		return []K{}
	}
	keys := make([]K, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	return keys
}
