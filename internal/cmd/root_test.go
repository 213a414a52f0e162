package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	root := NewRootCommand()

	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"bootstrap", "ingest", "stats", "checkpoint", "collection"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCommand_UnknownSubcommand(t *testing.T) {
	_, err := executeCommand(t, "nonsense")
	require.Error(t, err)
}

func TestBootstrapCommand_RequiresRootArg(t *testing.T) {
	_, err := executeCommand(t, "bootstrap")
	require.Error(t, err)
}

func TestIngestCommand_RejectsPositionalArgs(t *testing.T) {
	_, err := executeCommand(t, "ingest", "stray")
	require.Error(t, err)
}
