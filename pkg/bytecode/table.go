package bytecode

// Table is an open-addressing, linear-probing hash table with power-of-two
// capacity. Keys are interned strings, so key equality is pointer equality.
// Deleted entries become tombstones (nil key, true value) that keep probe
// chains intact but can be reused by a later set.
type Table struct {
	count   int // live entries plus tombstones
	entries []Entry
}

// Entry is a single table slot.
type Entry struct {
	Key   *String
	Value Value
}

const tableMaxLoad = 0.75

// Get looks up key and reports whether it was present.
func (t *Table) Get(key *String) (Value, bool) {
	if t.count == 0 {
		return NilVal(), false
	}
	entry := t.findEntry(t.entries, key)
	if entry.Key == nil {
		return NilVal(), false
	}
	return entry.Value, true
}

// Set inserts or overwrites key and returns true if the key was new.
func (t *Table) Set(key *String, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.adjustCapacity(growCapacity(len(t.entries)))
	}

	entry := t.findEntry(t.entries, key)
	isNewKey := entry.Key == nil
	if isNewKey && entry.Value.IsNil() {
		// A genuinely empty slot, not a recycled tombstone.
		t.count++
	}

	entry.Key = key
	entry.Value = value
	return isNewKey
}

// Delete removes key by planting a tombstone, reporting whether the key
// was present.
func (t *Table) Delete(key *String) bool {
	if t.count == 0 {
		return false
	}

	entry := t.findEntry(t.entries, key)
	if entry.Key == nil {
		return false
	}

	entry.Key = nil
	entry.Value = BoolVal(true)
	return true
}

// AddAll copies every live entry of from into t.
func (t *Table) AddAll(from *Table) {
	for i := range from.entries {
		entry := &from.entries[i]
		if entry.Key != nil {
			t.Set(entry.Key, entry.Value)
		}
	}
}

// FindString looks up a string by content and hash. This is the one lookup
// that compares bytes rather than pointers; the intern set uses it to find
// the canonical instance.
func (t *Table) FindString(chars string, hash uint32) *String {
	if t.count == 0 {
		return nil
	}

	index := hash & uint32(len(t.entries)-1)
	for {
		entry := &t.entries[index]
		if entry.Key == nil {
			// Stop on a truly empty slot, probe past tombstones.
			if entry.Value.IsNil() {
				return nil
			}
		} else if entry.Key.Hash == hash && entry.Key.Chars == chars {
			return entry.Key
		}
		index = (index + 1) & uint32(len(t.entries)-1)
	}
}

// Range calls fn for each live entry until fn returns false.
func (t *Table) Range(fn func(key *String, value Value) bool) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key == nil {
			continue
		}
		if !fn(entry.Key, entry.Value) {
			return
		}
	}
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].Key != nil {
			n++
		}
	}
	return n
}

func (t *Table) findEntry(entries []Entry, key *String) *Entry {
	index := key.Hash & uint32(len(entries)-1)
	var tombstone *Entry
	for {
		entry := &entries[index]
		if entry.Key == nil {
			if entry.Value.IsNil() {
				// Empty slot ends the probe chain; hand back the first
				// tombstone seen so set can recycle it.
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			if tombstone == nil {
				tombstone = entry
			}
		} else if entry.Key == key {
			return entry
		}
		index = (index + 1) & uint32(len(entries)-1)
	}
}

func (t *Table) adjustCapacity(capacity int) {
	entries := make([]Entry, capacity)

	// Rehash live entries; tombstones are dropped, so recount.
	t.count = 0
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key == nil {
			continue
		}
		dest := t.findEntryIn(entries, entry.Key)
		dest.Key = entry.Key
		dest.Value = entry.Value
		t.count++
	}

	t.entries = entries
}

// findEntryIn probes a freshly allocated entry array, which holds no
// tombstones.
func (t *Table) findEntryIn(entries []Entry, key *String) *Entry {
	index := key.Hash & uint32(len(entries)-1)
	for {
		entry := &entries[index]
		if entry.Key == nil || entry.Key == key {
			return entry
		}
		index = (index + 1) & uint32(len(entries)-1)
	}
}

// removeWhite deletes entries whose key has not been marked by the current
// collection. The intern set holds its strings weakly: this runs after
// marking and before the sweep so dead strings drop out of the set before
// they are freed.
func (t *Table) removeWhite() {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil && !entry.Key.marked {
			t.Delete(entry.Key)
		}
	}
}

// mark colors every key and value reachable through the table.
func (t *Table) mark(h *Heap) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil {
			h.MarkObject(entry.Key)
		}
		h.MarkValue(entry.Value)
	}
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}
