package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbemu/pkg"
)

func TestStringTable_Add(t *testing.T) {
	table := NewStringTable()

	idx, err := table.Add("Manufacturer")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), idx)

	idx, err = table.Add("Product")
	require.NoError(t, err)
	assert.Equal(t, uint8(2), idx)

	idx, err = table.Add("Manufacturer")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), idx, "existing strings keep their index")
	assert.Equal(t, 2, table.Len())

	s, ok := table.Lookup(2)
	assert.True(t, ok)
	assert.Equal(t, "Product", s)

	_, ok = table.Lookup(0)
	assert.False(t, ok)
	_, ok = table.Lookup(3)
	assert.False(t, ok)
}

func TestStringTable_Full(t *testing.T) {
	table := NewStringTable()
	for i := 0; i < MaxStringIndex; i++ {
		_, err := table.Add(strings.Repeat("x", i+1))
		require.NoError(t, err)
	}

	_, err := table.Add("overflow")
	assert.ErrorIs(t, err, pkg.ErrStringTableFull)
	assert.Zero(t, table.IndexOf(Str("overflow")))
}

func TestStringTable_IndexOf(t *testing.T) {
	table := NewStringTable()

	assert.Equal(t, uint8(1), table.IndexOf(Str("Keyboard")))
	assert.Equal(t, uint8(1), table.IndexOf(Str("Keyboard")))
	assert.Equal(t, uint8(7), table.IndexOf(StringRef{Index: 7}), "raw index is kept")
	assert.Zero(t, table.IndexOf(StringRef{}))

	var nilTable *StringTable
	assert.Equal(t, uint8(3), nilTable.IndexOf(StringRef{Text: "ignored", Index: 3}))
}

func TestStringTable_Ref(t *testing.T) {
	table := NewStringTable()
	_, err := table.Add("Serial")
	require.NoError(t, err)

	assert.Equal(t, StringRef{Text: "Serial", Index: 1}, table.Ref(1))
	assert.Equal(t, StringRef{Index: 9}, table.Ref(9))
	assert.True(t, StringRef{}.IsZero())
	assert.False(t, Str("x").IsZero())
}

func TestStringTable_AppendDescriptor(t *testing.T) {
	table := NewStringTable(LangIDUSEnglish, 0x0407)
	_, err := table.Add("Hi")
	require.NoError(t, err)

	data, ok := table.AppendDescriptor(nil, 0)
	require.True(t, ok)
	assert.Equal(t, []byte{0x06, 0x03, 0x09, 0x04, 0x07, 0x04}, data)

	data, ok = table.AppendDescriptor(nil, 1)
	require.True(t, ok)
	assert.Equal(t, []byte{0x06, 0x03, 'H', 0x00, 'i', 0x00}, data)

	_, ok = table.AppendDescriptor(nil, 2)
	assert.False(t, ok)
}

func TestStringDescriptor_Truncated(t *testing.T) {
	data := appendStringDescriptor(nil, strings.Repeat("a", 200))
	assert.Equal(t, 254, len(data))
	assert.Equal(t, uint8(254), data[0])
	assert.Equal(t, uint8(DescriptorTypeString), data[1])
}

func TestStringDescriptor_UTF16(t *testing.T) {
	data := appendStringDescriptor(nil, "é")
	assert.Equal(t, []byte{0x04, 0x03, 0xE9, 0x00}, data)
}

func TestStringDescriptor_SurrogatePair(t *testing.T) {
	data := appendStringDescriptor(nil, "key \U0001F511")
	assert.Equal(t, []byte{
		0x0E, 0x03,
		'k', 0x00, 'e', 0x00, 'y', 0x00, ' ', 0x00,
		0x3D, 0xD8, 0x11, 0xDD,
	}, data)
}

func TestStringDescriptor_TruncatedSurrogatePair(t *testing.T) {
	// 125 code units of ASCII, then a pair that would straddle the limit.
	data := appendStringDescriptor(nil, strings.Repeat("a", 125)+"\U0001F511")
	require.Len(t, data, 252)
	assert.Equal(t, uint8(252), data[0])
	assert.Equal(t, []byte{'a', 0x00}, data[250:])

	data = appendStringDescriptor(nil, strings.Repeat("a", 124)+"\U0001F511b")
	require.Len(t, data, 254)
	assert.Equal(t, []byte{0x3D, 0xD8, 0x11, 0xDD}, data[250:])
}
