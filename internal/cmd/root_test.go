package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandStructure(t *testing.T) {
	t.Parallel()

	root := rootCmd()
	assert.Equal(t, "vigil", root.Use)

	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "daemon")
	assert.Contains(t, names, "version")

	cfg := root.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	quiet := root.PersistentFlags().Lookup("quiet")
	require.NotNil(t, quiet)
}

func TestVersionCommandRuns(t *testing.T) {
	t.Parallel()

	root := rootCmd()
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
}
