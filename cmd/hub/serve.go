package main

import (
	"github.com/spf13/cobra"

	"hub/cmd/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server (auth, dashboard API, session stream)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Serve(cmd.Context(), configPath)
	},
}
