// taskmem: persistent task and entity tracking for AI coding assistants.
//
// One MCP server serves any number of project workspaces, each backed by
// its own SQLite database, with a shared registry of known projects.
//
// Usage:
//
//	taskmem serve      # Start MCP server (stdio transport)
//	taskmem projects   # List registered projects
//	taskmem cleanup    # Purge old soft-deleted tasks
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/taskmem/internal/config"
	"github.com/HendryAvila/taskmem/internal/logging"
	"github.com/HendryAvila/taskmem/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "taskmem",
	Short: "taskmem - task and entity memory for MCP clients",
	Long: `taskmem keeps tasks, their dependencies and the files they touch in a
per-workspace SQLite database, and serves them to AI tools over MCP.

Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "taskmem": {
        "command": "taskmem",
        "args": ["serve"]
      }
    }
  }`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Config file (YAML)")

	rootCmd.AddCommand(serveCmd, projectsCmd, cleanupCmd, versionCmd)
}

// openComponents loads the configuration, builds the stderr logger and
// opens the shared registry. Callers must Close the result.
func openComponents() (*server.Components, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return server.Open(cfg, logger)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the taskmem version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "taskmem v%s\n", server.Version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
