package bdd

import (
	"slices"
	"sort"
)

// Vocabulary maps category names to dense integer ids.
// Ids are assigned in lexicographic order of the names, so the same set of names always
// produces the same mapping. A Vocabulary is read-only once built.
type Vocabulary struct {
	names []string
	ids   map[string]int
}

// Build a vocabulary from any collection of names. Duplicates are ignored.
func NewVocabulary(names []string) *Vocabulary {
	unique := map[string]bool{}
	for _, n := range names {
		unique[n] = true
	}
	sorted := make([]string, 0, len(unique))
	for n := range unique {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	v := &Vocabulary{
		names: sorted,
		ids:   make(map[string]int, len(sorted)),
	}
	for i, n := range sorted {
		v.ids[n] = i
	}
	return v
}

func (v *Vocabulary) Len() int {
	return len(v.names)
}

// Return the sorted category names. Index i is the name of id i.
func (v *Vocabulary) Names() []string {
	return slices.Clone(v.names)
}

// Return the name of an id, or "" if out of range
func (v *Vocabulary) Name(id int) string {
	if id < 0 || id >= len(v.names) {
		return ""
	}
	return v.names[id]
}

func (v *Vocabulary) ID(name string) (int, bool) {
	id, ok := v.ids[name]
	return id, ok
}

// Return a copy of the name to id map
func (v *Vocabulary) IDMap() map[string]int {
	m := make(map[string]int, len(v.ids))
	for k, id := range v.ids {
		m[k] = id
	}
	return m
}
