package cmd

import (
	"testing"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func TestNewDaftCommandRegistersSubcommands(t *testing.T) {
	root := NewDaftCommand()
	names := lo.Map(root.Commands(), func(c *cobra.Command, _ int) string { return c.Name() })
	for _, want := range []string{"init-config", "up", "down", "list", "submit", "dashboard", "sql", "export", "version"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("verbose"))
	assert.NotNil(t, root.PersistentFlags().Lookup("debug"))
}
