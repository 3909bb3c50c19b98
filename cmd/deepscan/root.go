package main

import (
	"github.com/spf13/cobra"
)

// Set by -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deepscan",
		Short:         "Streaming deepfake detection for video files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newAnalyzeCmd(), newReportCmd(), newVersionCmd())
	return root
}
