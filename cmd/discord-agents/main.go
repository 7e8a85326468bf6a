// Command discord-agents runs the bot supervisor process: the reconciler,
// the worker supervisor, and the control-plane HTTP server. Subcommands are
// structured with cobra.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "discord-agents",
		Short: "Multi-tenant Discord bot supervisor",
	}
	root.AddCommand(newRunCommand())
	root.AddCommand(newMigrateCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
