package sheets

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteXLSXThenReadRows(t *testing.T) {
	var buf bytes.Buffer
	err := WriteXLSX(&buf, Table{
		Sheet:   "users",
		Headers: []string{"ID", "Email", "Status"},
		Rows: [][]string{
			{"1", "a@x.com", "active"},
			{"2", "b@x.com", "blocked"},
		},
	})
	require.NoError(t, err)

	rows, err := ReadRows(&buf, "users.xlsx")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"ID", "Email", "Status"}, rows[0])
	assert.Equal(t, []string{"2", "b@x.com", "blocked"}, rows[2])
}

func TestReadRows_RejectsGarbage(t *testing.T) {
	_, err := ReadRows(strings.NewReader("not a workbook"), "users.xlsx")
	assert.Error(t, err)
}

func TestColumn(t *testing.T) {
	rows := [][]string{
		{"Name", " EMAIL "},
		{"Ann", "a@x.com"},
		{"Bo"},
		{"Cy", "  c@x.com "},
	}

	got, err := Column(rows, "email")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "c@x.com"}, got)

	_, err = Column(rows, "phone")
	assert.ErrorIs(t, err, ErrNoColumn)

	_, err = Column(nil, "email")
	assert.ErrorIs(t, err, ErrEmptyWorksheet)
}
