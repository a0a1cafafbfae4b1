package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCommand(t *testing.T) {
	cmd := normalizeCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"+223 70 00 00 00"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "suffix:    370000000")
	assert.Contains(t, out.String(), "match key: 70000000")
	assert.Contains(t, out.String(), "matchable: true")
}
