package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, entry{File: "a.csv", Size: 42}))
	assert.Contains(t, buf.String(), `"file": "a.csv"`)
	assert.Contains(t, buf.String(), `"size": 42`)
}

func TestPrintJSONCompact(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSONCompact(&buf, entry{File: "a.csv", Size: 42}))
	assert.Equal(t, "{\"file\":\"a.csv\",\"size\":42}\n", buf.String())
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, entry{File: "a.csv", Size: 42}))
	assert.Equal(t, "file: a.csv\nsize: 42\n", buf.String())
}
