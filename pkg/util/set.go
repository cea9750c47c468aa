package util

// Set holds distinct comparable keys
type Set[K comparable] map[K]struct{}

// SetOf builds a Set from the provided keys
func SetOf[K comparable](keys ...K) Set[K] {
	s := make(Set[K], len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// Add inserts key into the Set
func (s Set[K]) Add(key K) {
	s[key] = struct{}{}
}

// Remove deletes key from the Set
func (s Set[K]) Remove(key K) {
	delete(s, key)
}

// Contains reports whether key is in the Set
func (s Set[K]) Contains(key K) bool {
	_, ok := s[key]
	return ok
}

// Take removes key and reports whether it was present. Each key can only
// be taken once
func (s Set[K]) Take(key K) bool {
	if !s.Contains(key) {
		return false
	}
	delete(s, key)
	return true
}

// AppendNew appends the keys not yet in the Set to dst, in order, and
// records them
func (s Set[K]) AppendNew(dst []K, keys ...K) []K {
	for _, k := range keys {
		if s.Contains(k) {
			continue
		}
		s.Add(k)
		dst = append(dst, k)
	}
	return dst
}

// Len returns the number of keys in the Set
func (s Set[K]) Len() int {
	return len(s)
}
