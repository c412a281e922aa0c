package lookup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const raggedReport = "In-Transfer (Push Delivery) Materials Report\n" +
	"Plant Delivery                Material\n" +
	"\tTEST01\t1234567890\t\t987654321\n" +
	"\tTEST02\t1234567891\t\t\t987654322   EA\r\n" +
	"\n" +
	"\tTEST03\t1234567892\t987654323\n"

func TestParseRows_RaggedColumns(t *testing.T) {
	rows, err := ParseRows(strings.NewReader(raggedReport))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, Row{Plant: "TEST01", Delivery: "1234567890", PartNo: "987654321"}, rows[0])
	assert.Equal(t, "987654322", rows[1].PartNo)
	assert.Equal(t, "TEST03", rows[2].Plant)
	assert.Equal(t, "987654323", rows[2].PartNo)
}

func TestParseRows_NoHeader(t *testing.T) {
	rows, err := ParseRows(strings.NewReader("PLT01\t111\t555\nPLT02\t112\t556\n"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParseRows_SkipsShortAndEmptyLines(t *testing.T) {
	input := "Plant\tDelivery\tMaterial\n" +
		"PLT01\t111\n" + // two columns
		"\t\t\t\n" + // trims to empty
		"PLT02\t112\t556\n"

	rows, err := ParseRows(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "PLT02", rows[0].Plant)
}

func TestParseRows_Windows1252(t *testing.T) {
	input := "Plant\tDelivery\tMaterial\nM\xfcnchen\t111\t555\n"

	rows, err := ParseRows(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "München", rows[0].Plant)
}

func TestUniquePartNumbers(t *testing.T) {
	rows := []Row{
		{PartNo: "B"},
		{PartNo: "A"},
		{PartNo: ""},
		{PartNo: "B"},
		{PartNo: "  "},
		{PartNo: "C"},
	}
	assert.Equal(t, []string{"B", "A", "C"}, UniquePartNumbers(rows))
	assert.Empty(t, UniquePartNumbers(nil))
}

func TestMerge(t *testing.T) {
	rows := []Row{
		{Plant: "P1", PartNo: "123"},
		{Plant: "P2", PartNo: "999"},
		{Plant: "P3", PartNo: ""},
		{Plant: "P4", PartNo: "123"},
	}
	records := map[string]Record{
		"123": {DUNS: "d1", COF: "c1", Country: "US"},
		"":    {DUNS: "never"},
	}

	matched := Merge(rows, records)
	assert.Equal(t, 2, matched)
	require.Len(t, rows, 4)

	assert.Equal(t, Row{Plant: "P1", PartNo: "123", DUNS: "d1", COF: "c1", Country: "US"}, rows[0])
	assert.Equal(t, Row{Plant: "P2", PartNo: "999"}, rows[1])
	assert.Equal(t, Row{Plant: "P3"}, rows[2])
	assert.Equal(t, "d1", rows[3].DUNS)
}

func TestMerge_NoRecords(t *testing.T) {
	rows := []Row{{PartNo: "1"}, {PartNo: "2"}}
	assert.Equal(t, 0, Merge(rows, nil))
	assert.Len(t, rows, 2)
	assert.Empty(t, rows[0].DUNS)
}
