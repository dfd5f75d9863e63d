package object

import "github.com/kristofer/loxvm/pkg/value"

// entry is one slot in a Table's backing array. A nil Key with a zero Value
// is an empty slot; a nil Key with Value == value.Bool(true) is a
// tombstone left by Delete, kept so probe chains past it still terminate
// correctly.
type entry struct {
	Key   *ObjString
	Value value.Value
}

// Table is the open-addressed, linear-probing hash table used throughout
// loxvm: globals, string interning, instance fields, and class method
// tables all share this one implementation. Capacity is always a power of
// two and grows to keep the load factor at or below 0.75.
type Table struct {
	count   int // live entries, tombstones included (so growth accounts for them)
	entries []entry
}

const tableMaxLoad = 0.75

// NewTable returns an empty table. No backing array is allocated until the
// first insertion.
func NewTable() *Table {
	return &Table{}
}

// Count reports the number of occupied slots: live keys plus any
// tombstones left by Delete since the last resize.
func (t *Table) Count() int {
	return t.count
}

// Get looks up key, returning its value and whether it was found.
func (t *Table) Get(key *ObjString) (value.Value, bool) {
	if len(t.entries) == 0 {
		return value.Nil, false
	}
	e := findEntry(t.entries, key)
	if e.Key == nil {
		return value.Nil, false
	}
	return e.Value, true
}

// Set stores value under key, growing the table first if that would push
// the load factor past 0.75. Returns true if key was not already present.
func (t *Table) Set(key *ObjString, v value.Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.grow()
	}
	e := findEntry(t.entries, key)
	isNew := e.Key == nil
	if isNew && e.Value.IsNil() {
		// Only a genuinely empty slot (not a tombstone) grows the live count:
		// reusing a tombstone's slot doesn't add a new probe-chain link.
		t.count++
	}
	e.Key = key
	e.Value = v
	return isNew
}

// Delete removes key, leaving a tombstone so later probes for other keys
// that hashed into the same chain still find them.
func (t *Table) Delete(key *ObjString) bool {
	if len(t.entries) == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if e.Key == nil {
		return false
	}
	e.Key = nil
	e.Value = value.Bool(true)
	return true
}

// AddAll copies every live entry of t into dst. Used when a subclass
// inherits its superclass's method table.
func (t *Table) AddAll(dst *Table) {
	for _, e := range t.entries {
		if e.Key != nil {
			dst.Set(e.Key, e.Value)
		}
	}
}

// FindString looks up an interned string by its raw contents and hash
// without allocating an ObjString first, so the heap's intern-on-literal
// path can check "do we already have this string" before allocating.
func (t *Table) FindString(chars string, hash uint32) *ObjString {
	if len(t.entries) == 0 {
		return nil
	}
	mask := uint32(len(t.entries) - 1)
	index := hash & mask
	for {
		e := &t.entries[index]
		if e.Key == nil {
			if e.Value.IsNil() {
				return nil
			}
		} else if e.Key.Hash == hash && e.Key.Chars == chars {
			return e.Key
		}
		index = (index + 1) & mask
	}
}

// RemoveWhite deletes every entry whose key string is unmarked, called on
// the intern table right before the general sweep so the next sweep pass
// doesn't find dangling references into strings about to be freed.
func (t *Table) RemoveWhite() {
	for i := range t.entries {
		e := &t.entries[i]
		if e.Key != nil && !e.Key.IsMarked {
			t.Delete(e.Key)
		}
	}
}

// Keys returns every live key, order unspecified. Used by the REPL's
// .globals command and by the collector when marking a table.
func (t *Table) Keys() []*ObjString {
	keys := make([]*ObjString, 0, t.count)
	for _, e := range t.entries {
		if e.Key != nil {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

func findEntry(entries []entry, key *ObjString) *entry {
	mask := uint32(len(entries) - 1)
	index := key.Hash & mask
	var tombstone *entry
	for {
		e := &entries[index]
		switch {
		case e.Key == nil:
			if e.Value.IsNil() {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			if tombstone == nil {
				tombstone = e
			}
		case e.Key == key:
			return e
		}
		index = (index + 1) & mask
	}
}

func (t *Table) grow() {
	newCap := 8
	if len(t.entries) > 0 {
		newCap = len(t.entries) * 2
	}
	newEntries := make([]entry, newCap)
	t.count = 0
	for _, e := range t.entries {
		if e.Key == nil {
			continue
		}
		dst := findEntry(newEntries, e.Key)
		dst.Key = e.Key
		dst.Value = e.Value
		t.count++
	}
	t.entries = newEntries
}
