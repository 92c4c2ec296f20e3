package main

import (
	"github.com/spf13/cobra"

	"github.com/scl-tools/rpmrh/pkg/web"
)

var serveBind string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configuration and build cache inspection API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveBind, "bind", ":8080", "Address to serve on")
	root.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	srv := web.New(appLogger, runtimeCtx, buildCache)
	return srv.Serve(serveBind)
}
