package vm

// Table is an open-addressed hash table with linear probing, keyed by
// interned strings. Because every key is interned, lookups compare key
// pointers; only FindString, which serves the interning table itself,
// compares contents.
//
// Deleted entries leave a tombstone (nil key, true value) so probe
// sequences keep running past them. Tombstones count toward the load
// factor and are dropped on resize.
type Table struct {
	count   int // live entries plus tombstones
	entries []tableEntry
}

type tableEntry struct {
	key   *ObjString
	value Value
}

const tableMaxLoad = 0.75

// Get looks up key and reports whether it was present.
func (t *Table) Get(key *ObjString) (Value, bool) {
	if t.count == 0 {
		return NilValue(), false
	}
	e := t.findEntry(key)
	if e.key == nil {
		return NilValue(), false
	}
	return e.value, true
}

// Set inserts or updates key and reports whether the key was new.
func (t *Table) Set(key *ObjString, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.adjustCapacity(growCapacity(len(t.entries)))
	}

	e := t.findEntry(key)
	isNew := e.key == nil
	if isNew && e.value.IsNil() {
		// Fresh slot, not a recycled tombstone.
		t.count++
	}
	e.key = key
	e.value = value
	return isNew
}

// Delete removes key, leaving a tombstone, and reports whether it was
// present.
func (t *Table) Delete(key *ObjString) bool {
	if t.count == 0 {
		return false
	}
	e := t.findEntry(key)
	if e.key == nil {
		return false
	}
	e.key = nil
	e.value = BoolValue(true)
	return true
}

// AddAll copies every entry of src into t. Used by OP_INHERIT to copy a
// superclass's method table down into the subclass.
func (t *Table) AddAll(src *Table) {
	for i := range src.entries {
		e := &src.entries[i]
		if e.key != nil {
			t.Set(e.key, e.value)
		}
	}
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].key != nil {
			n++
		}
	}
	return n
}

// Range calls fn for every live entry, in table order.
func (t *Table) Range(fn func(key *ObjString, value Value)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil {
			fn(e.key, e.value)
		}
	}
}

// FindString probes for an existing string with the given contents and
// hash. It is the one content-comparing lookup, used by the interning
// table before a new string is allocated.
func (t *Table) FindString(chars string, hash uint32) *ObjString {
	if t.count == 0 {
		return nil
	}
	index := hash & uint32(len(t.entries)-1)
	for {
		e := &t.entries[index]
		if e.key == nil {
			// Stop at a truly empty slot; skip tombstones.
			if e.value.IsNil() {
				return nil
			}
		} else if len(e.key.Chars) == len(chars) && e.key.Hash == hash && e.key.Chars == chars {
			return e.key
		}
		index = (index + 1) & uint32(len(t.entries)-1)
	}
}

// findEntry locates the slot for key: its current entry, the first
// tombstone on its probe path, or the empty slot where it would go.
func (t *Table) findEntry(key *ObjString) *tableEntry {
	index := key.Hash & uint32(len(t.entries)-1)
	var tombstone *tableEntry
	for {
		e := &t.entries[index]
		if e.key == nil {
			if e.value.IsNil() {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			if tombstone == nil {
				tombstone = e
			}
		} else if e.key == key {
			return e
		}
		index = (index + 1) & uint32(len(t.entries)-1)
	}
}

// adjustCapacity rebuilds the table at the given capacity, re-probing every
// live entry and dropping tombstones.
func (t *Table) adjustCapacity(capacity int) {
	old := t.entries
	t.entries = make([]tableEntry, capacity)
	t.count = 0
	for i := range old {
		e := &old[i]
		if e.key == nil {
			continue
		}
		dest := t.findEntry(e.key)
		dest.key = e.key
		dest.value = e.value
		t.count++
	}
}

// removeWhite deletes entries whose key is unmarked. Called on the intern
// table between mark and sweep so freed strings do not linger as dangling
// keys.
func (t *Table) removeWhite() {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil && !e.key.marked {
			t.Delete(e.key)
		}
	}
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}
