package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() Table {
	return Table{
		Title:   "Late actions",
		Headers: []string{"session_id", "action"},
		Rows: []map[string]string{
			{"session_id": "s-1", "action": "SESSION_CANCEL_LATE"},
			{"session_id": "s-2"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestCSVRenderer(t *testing.T) {
	out, err := For(FormatCSV).Render(sampleTable())
	require.NoError(t, err)
	assert.Equal(t, "session_id,action\ns-1,SESSION_CANCEL_LATE\ns-2,\n", string(out))
}

func TestPDFRenderer(t *testing.T) {
	r := For(FormatPDF)
	assert.Equal(t, "application/pdf", r.ContentType())
	out, err := r.Render(sampleTable())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderRequiresHeaders(t *testing.T) {
	_, err := NewCSVRenderer().Render(Table{})
	assert.ErrorIs(t, err, errNoHeaders)
	_, err = NewPDFRenderer().Render(Table{})
	assert.ErrorIs(t, err, errNoHeaders)
}
