package strings

// Intern deduplicates strings that recur many times, such as the column
// and table names arriving with every change event. Lookups return the
// pool's copy, so each distinct name is allocated once.
//
// Intern is not safe for concurrent use. Each stream decoder owns its
// own interner.
type Intern struct {
	strings map[string]string
}

// NewIntern returns an empty interner.
func NewIntern() *Intern {
	return &Intern{strings: make(map[string]string)}
}

// Get returns the interned copy of s, adding it on first sight.
func (in *Intern) Get(s string) string {
	if interned, ok := in.strings[s]; ok {
		return interned
	}

	// s frequently aliases a decode scratch buffer, so own the memory
	// before keying the map with it.
	owned := Clone(s)
	in.strings[owned] = owned
	return owned
}

// Size returns the number of distinct strings held.
func (in *Intern) Size() int {
	return len(in.strings)
}

// Clear drops all interned strings.
func (in *Intern) Clear() {
	in.strings = make(map[string]string)
}
