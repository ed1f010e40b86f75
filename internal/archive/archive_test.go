package archive

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTarXZ_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTarXZ(&buf, []File{
		{Name: "plan.pdf", Data: []byte("one")},
		{Name: "../etc/plan.pdf", Data: []byte("two")},
		{Name: "", Data: []byte("three")},
	}))

	files, err := ReadTarXZ(&buf)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "plan.pdf", files[0].Name)
	assert.Equal(t, "plan-1.pdf", files[1].Name)
	assert.Equal(t, []byte("two"), files[1].Data)
	assert.Equal(t, "file", files[2].Name)
}

func TestWriteTarXZ_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTarXZ(&buf, nil))

	files, err := ReadTarXZ(&buf)
	require.NoError(t, err)
	assert.Empty(t, files)
}
