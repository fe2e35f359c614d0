package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPrintsBothVariables(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(nil, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "MRTD_RESULT_KEY="))
	assert.True(t, strings.HasPrefix(lines[1], "MRTD_API_TOKEN="))
	assert.Greater(t, len(lines[1]), len("MRTD_API_TOKEN=")+16)
}

func TestRunOnly(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-only", "api-token"}, &out))
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), "MRTD_API_TOKEN=")

	out.Reset()
	err := run([]string{"-only", "jwt"}, &out)
	assert.ErrorContains(t, err, "unknown -only value")
}
