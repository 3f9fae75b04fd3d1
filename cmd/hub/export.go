package main

import (
	"github.com/spf13/cobra"

	"hub/cmd/internal/app"
	"hub/cmd/internal/export"
)

var exportDest export.S3Config

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a JSONL snapshot of the board to S3-compatible storage",
	Long: `Write categories, projects and tasks as JSONL to a bucket.

Flags override the HUB_EXPORT_* settings. The key may contain {date} and
{ts}, which expand to the export time. Credentials come from the standard
AWS chain (env vars, shared config, instance role).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.ExportOnce(cmd.Context(), configPath, exportDest)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDest.Bucket, "bucket", "", "destination bucket")
	exportCmd.Flags().StringVar(&exportDest.Key, "key", "", "object key, may contain {date} and {ts}")
	exportCmd.Flags().StringVar(&exportDest.Region, "region", "", "AWS region")
	exportCmd.Flags().StringVar(&exportDest.Endpoint, "endpoint", "", "custom S3 endpoint, e.g. MinIO (enables path-style addressing)")
}
