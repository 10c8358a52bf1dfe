// Package multiset provides a counted bag of comparable keys.
package multiset

// Multiset counts occurrences of keys. The zero value is not usable; use New.
type Multiset[K comparable] struct {
	counts map[K]int
}

// New returns an empty multiset.
func New[K comparable]() *Multiset[K] {
	return &Multiset[K]{counts: make(map[K]int)}
}

// Add records one more occurrence of key.
func (m *Multiset[K]) Add(key K) {
	m.counts[key]++
}

// Contains reports whether at least one occurrence of key remains.
func (m *Multiset[K]) Contains(key K) bool {
	return m.counts[key] > 0
}

// Count returns the remaining occurrences of key.
func (m *Multiset[K]) Count(key K) int {
	return m.counts[key]
}

// Take consumes one occurrence of key and reports whether one was available.
func (m *Multiset[K]) Take(key K) bool {
	n := m.counts[key]
	if n <= 0 {
		return false
	}
	if n == 1 {
		delete(m.counts, key)
	} else {
		m.counts[key] = n - 1
	}
	return true
}

// Len returns the total number of occurrences held.
func (m *Multiset[K]) Len() int {
	total := 0
	for _, n := range m.counts {
		total += n
	}
	return total
}

// Set is a multiset whose membership test never consumes.
type Set[K comparable] struct {
	members map[K]struct{}
}

// NewSet returns an empty set.
func NewSet[K comparable]() *Set[K] {
	return &Set[K]{members: make(map[K]struct{})}
}

func (s *Set[K]) Add(key K) {
	s.members[key] = struct{}{}
}

func (s *Set[K]) Contains(key K) bool {
	_, ok := s.members[key]
	return ok
}

func (s *Set[K]) Len() int {
	return len(s.members)
}
