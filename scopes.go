package grants

import "strings"

// OrderedSet is an insertion ordered collection of unique strings. It backs
// scopes and the audience claim so mutations never introduce duplicates and
// iteration order matches the order values were first seen.
type OrderedSet struct {
	values []string
	index  map[string]int
}

// NewOrderedSet builds a set from values, dropping empty strings and repeats.
func NewOrderedSet(values ...string) OrderedSet {
	s := OrderedSet{}
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// ParseScopes splits a space delimited scope parameter.
func ParseScopes(raw string) OrderedSet {
	return NewOrderedSet(strings.Fields(raw)...)
}

// Add inserts value when absent. It reports whether the set changed.
func (s *OrderedSet) Add(value string) bool {
	if value == "" {
		return false
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[value]; ok {
		return false
	}
	s.index[value] = len(s.values)
	s.values = append(s.values, value)
	return true
}

// Remove deletes value when present. It reports whether the set changed.
func (s *OrderedSet) Remove(value string) bool {
	pos, ok := s.index[value]
	if !ok {
		return false
	}
	s.values = append(s.values[:pos], s.values[pos+1:]...)
	delete(s.index, value)
	for i := pos; i < len(s.values); i++ {
		s.index[s.values[i]] = i
	}
	return true
}

// Replace swaps old for value keeping old's position. When old is absent the
// value is appended, so Replace never fails.
func (s *OrderedSet) Replace(old, value string) {
	pos, ok := s.index[old]
	if !ok {
		s.Add(value)
		return
	}
	if old == value {
		return
	}
	if _, exists := s.index[value]; exists {
		s.Remove(old)
		return
	}
	delete(s.index, old)
	s.values[pos] = value
	s.index[value] = pos
}

// Has reports membership.
func (s OrderedSet) Has(value string) bool {
	_, ok := s.index[value]
	return ok
}

// At returns the value stored at position i.
func (s OrderedSet) At(i int) (string, bool) {
	if i < 0 || i >= len(s.values) {
		return "", false
	}
	return s.values[i], true
}

// Len returns the number of values.
func (s OrderedSet) Len() int {
	return len(s.values)
}

// Values returns a copy of the values in insertion order.
func (s OrderedSet) Values() []string {
	if len(s.values) == 0 {
		return []string{}
	}
	out := make([]string, len(s.values))
	copy(out, s.values)
	return out
}

// Intersect returns the values of s that are also in other, keeping the
// order of s.
func (s OrderedSet) Intersect(other OrderedSet) OrderedSet {
	out := OrderedSet{}
	for _, v := range s.values {
		if other.Has(v) {
			out.Add(v)
		}
	}
	return out
}

// Clone returns an independent copy.
func (s OrderedSet) Clone() OrderedSet {
	return NewOrderedSet(s.values...)
}

// String joins the values with a single space, the OAuth2 scope encoding.
func (s OrderedSet) String() string {
	return strings.Join(s.values, " ")
}
