package device

import (
	"encoding/binary"
	"sync"
	"unicode/utf16"

	"github.com/ardnew/usbemu/pkg"
)

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409

// MaxStringDescriptorSize bounds a single encoded string descriptor.
const MaxStringDescriptorSize = 255

// StringRef refers to a descriptive string. Text is resolved to an index
// through a [StringTable] when a descriptor is encoded. A reference with no
// Text but a non-zero Index keeps a raw index whose text is unknown, as
// happens when a peer's descriptor names a string that is not in its table.
type StringRef struct {
	Text  string
	Index uint8
}

// Str returns a reference to s.
func Str(s string) StringRef {
	return StringRef{Text: s}
}

// IsZero reports whether the reference names no string.
func (r StringRef) IsZero() bool {
	return r.Text == "" && r.Index == 0
}

// StringTable assigns string descriptor indices to strings on demand.
// Index 0 is reserved for the supported language IDs.
type StringTable struct {
	langIDs []uint16
	strings []string // strings[i] is index i+1
	index   map[string]uint8
	mutex   sync.RWMutex
}

// NewStringTable creates an empty table. With no language IDs the table
// reports US English.
func NewStringTable(langIDs ...uint16) *StringTable {
	if len(langIDs) == 0 {
		langIDs = []uint16{LangIDUSEnglish}
	}
	return &StringTable{
		langIDs: langIDs,
		index:   make(map[string]uint8),
	}
}

// Add returns the index of s, allocating the next free index on first use.
func (t *StringTable) Add(s string) (uint8, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if idx, ok := t.index[s]; ok {
		return idx, nil
	}
	if len(t.strings) >= MaxStringIndex {
		return 0, pkg.ErrStringTableFull
	}
	t.strings = append(t.strings, s)
	idx := uint8(len(t.strings))
	t.index[s] = idx
	return idx, nil
}

// MaxStringIndex is the highest string descriptor index.
const MaxStringIndex = 255

// IndexOf resolves ref to a string descriptor index. A reference without
// text resolves to its raw Index; a nil table does the same for every
// reference. A full table resolves new strings to 0.
func (t *StringTable) IndexOf(ref StringRef) uint8 {
	if ref.Text == "" || t == nil {
		return ref.Index
	}
	idx, err := t.Add(ref.Text)
	if err != nil {
		pkg.LogWarn(pkg.ComponentDevice, "string not indexed",
			"string", ref.Text,
			"error", err)
		return 0
	}
	return idx
}

// Lookup returns the string at index.
func (t *StringTable) Lookup(index uint8) (string, bool) {
	if t == nil || index == 0 {
		return "", false
	}
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if int(index) > len(t.strings) {
		return "", false
	}
	return t.strings[index-1], true
}

// Ref returns a reference for index, carrying its text if the table has it.
func (t *StringTable) Ref(index uint8) StringRef {
	if s, ok := t.Lookup(index); ok {
		return StringRef{Text: s, Index: index}
	}
	return StringRef{Index: index}
}

// Len returns the number of strings in the table.
func (t *StringTable) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.strings)
}

// AppendDescriptor appends the string descriptor for index to buf. Index 0
// yields the language ID descriptor. Reports false if index is unassigned.
func (t *StringTable) AppendDescriptor(buf []byte, index uint8) ([]byte, bool) {
	if index == 0 {
		t.mutex.RLock()
		defer t.mutex.RUnlock()
		return appendLanguageDescriptor(buf, t.langIDs...), true
	}
	s, ok := t.Lookup(index)
	if !ok {
		return buf, false
	}
	return appendStringDescriptor(buf, s), true
}

// appendStringDescriptor appends s as a UTF-16LE string descriptor,
// truncated to the 255-byte descriptor limit. Truncation never splits a
// surrogate pair.
func appendStringDescriptor(buf []byte, s string) []byte {
	units := utf16.Encode([]rune(s))
	if limit := (MaxStringDescriptorSize - 2) / 2; len(units) > limit {
		n := limit
		if isHighSurrogate(units[n-1]) {
			n--
		}
		units = units[:n]
	}
	buf = append(buf, uint8(2+len(units)*2), DescriptorTypeString)
	for _, u := range units {
		buf = binary.LittleEndian.AppendUint16(buf, u)
	}
	return buf
}

func isHighSurrogate(u uint16) bool {
	return u >= 0xD800 && u < 0xDC00
}

// appendLanguageDescriptor appends the language ID string descriptor.
func appendLanguageDescriptor(buf []byte, langIDs ...uint16) []byte {
	buf = append(buf, uint8(2+len(langIDs)*2), DescriptorTypeString)
	for _, id := range langIDs {
		buf = binary.LittleEndian.AppendUint16(buf, id)
	}
	return buf
}
