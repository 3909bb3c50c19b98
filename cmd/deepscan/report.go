package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/report"
)

func newReportCmd() *cobra.Command {
	var outDir string
	var stdout bool

	cmd := &cobra.Command{
		Use:   "report <result.json>",
		Short: "Render the text report of a result saved with analyze --json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(args[0], outDir, stdout, cmd.OutOrStdout(), time.Now())
		},
	}

	cmd.Flags().StringVarP(&outDir, "report-dir", "o", ".", "Directory for the report file")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "Print the report instead of writing a file")

	return cmd
}

func runReport(path, outDir string, stdout bool, out io.Writer, now time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}

	var saved savedResult
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if saved.Result == nil {
		return fmt.Errorf("%s has no result", path)
	}

	in := report.FromResult(saved.FileName, saved.Result, saved.ChunkSize)
	if stdout {
		_, err := io.WriteString(out, report.Render(in, now))
		return err
	}

	reportPath, err := report.Export(outDir, in, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Report saved to %s\n", reportPath)
	return nil
}
