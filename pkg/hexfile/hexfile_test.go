package hexfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func line(typ byte, addr uint16, data []byte) string {
	return Record{Count: byte(len(data)), Address: addr, Type: typ, Data: data}.Marshal()
}

func TestParseLine(t *testing.T) {
	// record from the Intel HEX format description
	record, err := ParseLine(":0B0010006164647265737320676170A7", 1)
	assert.NoError(t, err)
	assert.Equal(t, byte(11), record.Count)
	assert.Equal(t, uint16(0x0010), record.Address)
	assert.Equal(t, byte(RecordData), record.Type)
	assert.Equal(t, []byte("address gap"), record.Data)

	// end of file record
	record, err = ParseLine(":00000001FF", 2)
	assert.NoError(t, err)
	assert.Equal(t, byte(RecordEndOfFile), record.Type)
	assert.Empty(t, record.Data)

	// trailing whitespace is tolerated
	_, err = ParseLine(":00000001FF\r", 3)
	assert.NoError(t, err)
}

func TestParseLineErrors(t *testing.T) {
	for _, item := range []struct {
		line   string
		reason string
	}{
		{"00000001FF", "missing start code"},
		{":00zz0001FF", "not valid hex"},
		{":0000FF", "record too short"},
		{":020000040800F3", "checksum mismatch"},
		{":03001000FFFFED", "byte count mismatch"},
	} {
		_, err := ParseLine(item.line, 7)
		var lineErr *LineError
		assert.ErrorAs(t, err, &lineErr, item.line)
		assert.Equal(t, 7, lineErr.Line)
		assert.Contains(t, lineErr.Error(), item.reason)
	}
}

func TestMarshal(t *testing.T) {
	// known extended linear address record
	record := Record{Count: 2, Address: 0, Type: RecordExtLinearAddr, Data: []byte{0x08, 0x00}}
	assert.Equal(t, ":020000040800F2", record.Marshal())

	// round trip
	parsed, err := ParseLine(record.Marshal(), 1)
	assert.NoError(t, err)
	assert.Equal(t, record, parsed)
}

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		line(RecordData, 0x0000, []byte{1, 2, 3, 4}),
		"",
		line(RecordData, 0x0040, []byte{5, 6}),
		line(RecordEndOfFile, 0, nil),
	}, "\n")

	store, err := Parse(strings.NewReader(input), 64)
	assert.NoError(t, err)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, []uint32{0, 1}, store.Indexes())

	// written bytes land at the right offsets
	assert.Equal(t, []byte{1, 2, 3, 4}, store.Get(0)[:4])
	assert.Equal(t, []byte{5, 6}, store.Get(1)[:2])

	// untouched bytes read back as fill
	assert.Equal(t, byte(Fill), store.Get(0)[4])
	assert.Equal(t, byte(Fill), store.Get(1)[63])
}

func TestParseExtendedLinearAddress(t *testing.T) {
	input := strings.Join([]string{
		line(RecordExtLinearAddr, 0, []byte{0x08, 0x00}),
		line(RecordData, 0x0010, []byte{0xAA, 0xBB}),
		line(RecordEndOfFile, 0, nil),
	}, "\n")

	store, err := Parse(strings.NewReader(input), 64)
	assert.NoError(t, err)

	// effective address is 0x08000010
	index := uint32(0x08000010 / 64)
	assert.Equal(t, []uint32{index}, store.Indexes())
	assert.Equal(t, []byte{0xAA, 0xBB}, store.Get(index)[0x10:0x12])
}

func TestParseStraddle(t *testing.T) {
	// a record crossing a block boundary splits into two blocks
	straddle := strings.Join([]string{
		line(RecordData, 12, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
		line(RecordEndOfFile, 0, nil),
	}, "\n")

	// the same bytes written as two aligned records
	split := strings.Join([]string{
		line(RecordData, 12, []byte{1, 2, 3, 4}),
		line(RecordData, 16, []byte{5, 6, 7, 8}),
		line(RecordEndOfFile, 0, nil),
	}, "\n")

	a, err := Parse(strings.NewReader(straddle), 16)
	assert.NoError(t, err)
	b, err := Parse(strings.NewReader(split), 16)
	assert.NoError(t, err)

	assert.Equal(t, []uint32{0, 1}, a.Indexes())
	assert.Equal(t, b.Get(0), a.Get(0))
	assert.Equal(t, b.Get(1), a.Get(1))
}

func TestParseRoundTrip(t *testing.T) {
	input := strings.Join([]string{
		line(RecordExtLinearAddr, 0, []byte{0x00, 0x01}),
		line(RecordData, 0x0000, []byte{0xDE, 0xAD, 0xBE, 0xEF}),
		line(RecordData, 0x003E, []byte{0x11, 0x22, 0x33, 0x44}),
		line(RecordEndOfFile, 0, nil),
	}, "\n")

	store, err := Parse(strings.NewReader(input), 64)
	assert.NoError(t, err)

	// serialize every block back to records and reparse
	var out []string
	for _, index := range store.Indexes() {
		addr := uint64(index) * 64
		out = append(out, line(RecordExtLinearAddr, 0, []byte{byte(addr >> 24), byte(addr >> 16)}))
		out = append(out, line(RecordData, uint16(addr), store.Get(index)))
	}
	out = append(out, line(RecordEndOfFile, 0, nil))

	again, err := Parse(strings.NewReader(strings.Join(out, "\n")), 64)
	assert.NoError(t, err)
	assert.Equal(t, store.Indexes(), again.Indexes())
	for _, index := range store.Indexes() {
		assert.Equal(t, store.Get(index), again.Get(index))
	}
}

func TestParseIncomplete(t *testing.T) {
	_, err := Parse(strings.NewReader(line(RecordData, 0, []byte{1})), 64)
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = Parse(strings.NewReader(""), 64)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestParseUnsupportedTypes(t *testing.T) {
	for _, typ := range []byte{RecordExtSegmentAddr, RecordStartSegmentAddr, RecordStartLinearAddr} {
		input := line(typ, 0, []byte{0x10, 0x00})
		_, err := Parse(strings.NewReader(input), 64)
		var typeErr *RecordTypeError
		assert.ErrorAs(t, err, &typeErr)
		assert.Equal(t, typ, typeErr.Type)
		assert.True(t, typeErr.Unsupported)
	}

	// truly unknown type
	_, err := Parse(strings.NewReader(line(9, 0, nil)), 64)
	var typeErr *RecordTypeError
	assert.ErrorAs(t, err, &typeErr)
	assert.False(t, typeErr.Unsupported)
}

func TestParseStopsAtEndOfFile(t *testing.T) {
	// garbage after the end of file record is never read
	input := line(RecordEndOfFile, 0, nil) + "\nnot a record"
	store, err := Parse(strings.NewReader(input), 64)
	assert.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestBlockStoreWrite(t *testing.T) {
	store := NewBlockStore(16)

	// a write spanning three blocks
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i + 1)
	}
	store.Write(8, data)
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, data[:8], store.Get(0)[8:])
	assert.Equal(t, data[8:24], store.Get(1))
	assert.Equal(t, data[24:], store.Get(2)[:16])

	// removal
	store.Remove(1)
	assert.Equal(t, []uint32{0, 2}, store.Indexes())
	assert.Nil(t, store.Get(1))
}
