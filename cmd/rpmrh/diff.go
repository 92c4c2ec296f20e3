package main

import (
	"os"

	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "List all packages from the source group missing in the destination group",
	RunE:  runDiff,
}

func init() {
	root.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	stream, err := inputStream()
	if err != nil {
		return err
	}

	stream, err = proc.Diff(cmd.Context(), stream)
	if err != nil {
		return err
	}
	return stream.Write(os.Stdout)
}
