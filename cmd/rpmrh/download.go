package main

import (
	"os"

	"github.com/spf13/cobra"
)

var downloadDir string

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download packages into the specified directory",
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadDir, "output-dir", "d", ".", "Target directory for downloaded packages")
	root.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	stream, err := inputStream()
	if err != nil {
		return err
	}

	stream, err = proc.Download(cmd.Context(), stream, downloadDir)
	if err != nil {
		return err
	}
	return stream.Write(os.Stdout)
}
