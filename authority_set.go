package oidcroles

import "sort"

// AuthoritySet is a set of authorities keyed by their name. The first
// authority added for a name is kept.
type AuthoritySet struct {
	items map[string]GrantedAuthority
}

// NewAuthoritySet creates a set holding the given authorities.
func NewAuthoritySet(authorities ...GrantedAuthority) *AuthoritySet {
	rv := &AuthoritySet{items: make(map[string]GrantedAuthority, len(authorities))}
	for _, a := range authorities {
		rv.Add(a)
	}
	return rv
}

// Add adds the authority unless one with the same name is present or it
// is nil. It reports whether the set changed.
func (s *AuthoritySet) Add(a GrantedAuthority) bool {
	if isNilAuthority(a) {
		return false
	}
	if s.items == nil {
		s.items = map[string]GrantedAuthority{}
	}
	name := a.Authority()
	if _, exists := s.items[name]; exists {
		return false
	}
	s.items[name] = a
	return true
}

// Union adds all authorities of other into s.
func (s *AuthoritySet) Union(other *AuthoritySet) {
	if other == nil {
		return
	}
	for _, a := range other.Slice() {
		s.Add(a)
	}
}

// Contains checks if an authority with the name is present.
func (s *AuthoritySet) Contains(name string) bool {
	if s == nil {
		return false
	}
	_, exists := s.items[name]
	return exists
}

// Get returns the authority with the name.
func (s *AuthoritySet) Get(name string) (GrantedAuthority, bool) {
	if s == nil {
		return nil, false
	}
	a, exists := s.items[name]
	return a, exists
}

func (s *AuthoritySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Names returns the sorted authority names.
func (s *AuthoritySet) Names() []string {
	if s == nil {
		return nil
	}
	rv := make([]string, 0, len(s.items))
	for name := range s.items {
		rv = append(rv, name)
	}
	sort.Strings(rv)
	return rv
}

// Slice returns the authorities sorted by name.
func (s *AuthoritySet) Slice() []GrantedAuthority {
	names := s.Names()
	rv := make([]GrantedAuthority, 0, len(names))
	for _, name := range names {
		rv = append(rv, s.items[name])
	}
	return rv
}

// Equal compares the names of both sets.
func (s *AuthoritySet) Equal(other *AuthoritySet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for _, name := range s.Names() {
		if !other.Contains(name) {
			return false
		}
	}
	return true
}
