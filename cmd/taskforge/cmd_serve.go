package main

import (
	"context"

	"taskforge/internal/logging"
	"taskforge/internal/mcpserver"

	"github.com/spf13/cobra"
)

var serveOffline bool

// serveCmd exposes taskforge as MCP tools over stdio
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve outdated_tasks, retrieve_examples and improve_task as MCP tools over stdio",
	Long: `Starts an MCP server on stdin/stdout. Add it to an MCP client with:

  {
    "mcpServers": {
      "taskforge": { "command": "taskforge", "args": ["serve", "-p", "/path/to/project"] }
    }
  }

With --offline the model-backed improve_task tool is not registered.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(0, func(ctx context.Context, a *app) error {
			if err := a.withCorpus(ctx); err != nil {
				return err
			}
			deps := mcpserver.Deps{
				Outdater: a.offlineCompiler(),
				Searcher: a.retriever,
				Query:    a.query("", ""),
			}
			if !serveOffline {
				if err := a.withModel(ctx); err != nil {
					return err
				}
				im, err := a.improver(ctx)
				if err != nil {
					return err
				}
				deps.Improver = im
			}
			s := mcpserver.New(a.cfg.Server.Name, a.cfg.Server.Version, deps)
			logging.Server("serving MCP on stdio for %s", a.ws.Root())
			return mcpserver.ServeStdio(s)
		})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveOffline, "offline", false, "Serve without a model (no improve_task)")
}
