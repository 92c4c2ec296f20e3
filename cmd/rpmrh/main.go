// rpmrh is an automation tool for mass RPM rebuilding, with focus on
// Software Collections.  The diff, download and build subcommands
// each consume a package stream on stdin and emit the processed
// stream on stdout, so runs chain together with ordinary pipes.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/scl-tools/rpmrh/pkg/config"
	"github.com/scl-tools/rpmrh/pkg/pipeline"
	"github.com/scl-tools/rpmrh/pkg/service"
	"github.com/scl-tools/rpmrh/pkg/service/dnf"
	"github.com/scl-tools/rpmrh/pkg/service/jenkins"
	"github.com/scl-tools/rpmrh/pkg/service/koji"
	"github.com/scl-tools/rpmrh/pkg/service/nomad"
	"github.com/scl-tools/rpmrh/pkg/storage"

	_ "github.com/scl-tools/rpmrh/pkg/storage/bc"
)

var (
	appLogger hclog.Logger

	flagConfigs     []string
	flagSource      string
	flagDestination string
	flagELs         []int
	flagCollections []string
	flagFailFile    string
	flagLogLevel    string

	runtimeCtx *config.Context
	proc       *pipeline.Pipeline
	buildCache *storage.BuildCache
)

var root = &cobra.Command{
	Use:   "rpmrh",
	Short: "Mass RPM rebuild helper for Software Collections",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

func init() {
	pf := root.PersistentFlags()
	pf.StringSliceVar(&flagConfigs, "config", []string{"rpmrh.yaml"}, "Configuration files, later files override earlier ones")
	pf.StringVarP(&flagSource, "from", "f", "", "Name of a source group (tag, target, ...)")
	pf.StringVarP(&flagDestination, "to", "t", "", "Name of a destination group (tag, target, ...)")
	pf.IntSliceVarP(&flagELs, "el", "e", []int{7}, "Major EL version (can be used multiple times)")
	pf.StringSliceVarP(&flagCollections, "collection", "c", nil, "Name of the SCL to work with (can be used multiple times)")
	pf.StringVar(&flagFailFile, "failed", "", "Path to store build failures to [default: stderr]")
	pf.StringVar(&flagLogLevel, "log-level", "INFO", "Log verbosity")
}

func setup(cmd *cobra.Command, args []string) error {
	appLogger = hclog.New(&hclog.LoggerOptions{
		Name:   "rpmrh",
		Level:  hclog.LevelFromString(flagLogLevel),
		Output: os.Stderr,
	})

	registry := service.NewTypeRegistry(appLogger)
	for _, register := range []func(*service.TypeRegistry) error{
		koji.Register,
		dnf.Register,
		jenkins.Register,
		nomad.Register,
	} {
		if err := register(registry); err != nil {
			return err
		}
	}

	ctx, err := config.Load(appLogger, registry, flagConfigs...)
	if err != nil {
		return err
	}
	runtimeCtx = ctx

	proc = pipeline.New(appLogger, ctx, pipeline.Params{
		Source:      flagSource,
		Destination: flagDestination,
	})

	if ctx.Cache.Store != "" {
		storage.SetLogger(appLogger)
		store, err := storage.Initialize(ctx.Cache.Store)
		if err != nil {
			return err
		}
		buildCache = storage.NewBuildCache(appLogger, store)
		proc.EnableCache(buildCache)
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	if buildCache != nil {
		if err := buildCache.Close(); err != nil {
			appLogger.Warn("Error closing build cache", "error", err)
		}
	}
}

// inputStream reads the package stream from stdin when one is piped
// in, and synthesizes an empty stream from the flags otherwise.
func inputStream() (pipeline.Stream, error) {
	stat, err := os.Stdin.Stat()
	if err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		if stream, err := pipeline.ReadStream(os.Stdin); err != nil {
			return nil, err
		} else if stream != nil {
			return stream, nil
		}
	}
	return pipeline.NewStream(flagELs, flagCollections), nil
}

func main() {
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
