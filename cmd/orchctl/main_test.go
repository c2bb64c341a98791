package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := newRootCommand(io.Discard)

	paths := [][]string{
		{"schedule", "apply"},
		{"schedule", "pause"},
		{"schedule", "resume"},
		{"schedule", "delete"},
		{"schedule", "describe"},
		{"schedule", "list"},
		{"runs", "history"},
		{"runs", "status"},
		{"runs", "cancel"},
	}
	for _, path := range paths {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	apply, _, err := root.Find([]string{"schedule", "apply"})
	require.NoError(t, err)
	assert.NotNil(t, apply.Flags().Lookup("file"))
	assert.NotNil(t, root.PersistentFlags().Lookup("tenant"))
}

func TestCommandArgs(t *testing.T) {
	root := newRootCommand(io.Discard)

	del, _, err := root.Find([]string{"schedule", "delete"})
	require.NoError(t, err)
	assert.Error(t, del.Args(del, nil))
	assert.NoError(t, del.Args(del, []string{"nightly"}))

	list, _, err := root.Find([]string{"schedule", "list"})
	require.NoError(t, err)
	assert.Error(t, list.Args(list, []string{"extra"}))
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	c := &cli{out: &buf}
	require.NoError(t, c.printJSON(map[string]string{"id": "nightly"}))
	assert.JSONEq(t, `{"id":"nightly"}`, buf.String())
}
