package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/scl-tools/rpmrh/pkg/report"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Attempt to build packages in the destination target",
	RunE:  runBuild,
}

func init() {
	root.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	stream, err := inputStream()
	if err != nil {
		return err
	}

	failures := report.NewFailures()
	stream, err = proc.Build(cmd.Context(), stream, failures)
	if err != nil {
		return err
	}

	if err := stream.Write(os.Stdout); err != nil {
		return err
	}
	return writeFailures(failures)
}

// writeFailures sends the per-collection failure report to the
// configured file, or stderr when none is set.  Build failures are
// part of the report, not a reason to abort.
func writeFailures(failures *report.Failures) error {
	if failures.Empty() {
		return nil
	}

	var out io.Writer = os.Stderr
	if flagFailFile != "" {
		f, err := os.Create(flagFailFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return failures.WriteYAML(out)
}
