package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"orefalert/internal/generator"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		outputDir    string
		servicesYAML string
		fixture      string
		proxy        string
		timeout      time.Duration
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:          "genmetadata",
		Short:        "Regenerate the geographic metadata tables from the oref and tzevaadom datasets",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			fetcher, err := generator.NewHTTPFetcher(timeout, proxy)
			if err != nil {
				return err
			}
			gen := generator.New(fetcher, generator.Options{
				OutputDir:    outputDir,
				ServicesYAML: servicesYAML,
				FixturePath:  fixture,
			}, logger)
			return gen.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "internal/metadata/data", "directory for the generated JSON tables")
	cmd.Flags().StringVar(&servicesYAML, "services-yaml", "deploy/services.yaml", "service definitions whose selector options are rewritten, empty to skip")
	cmd.Flags().StringVar(&fixture, "fixture", "internal/generator/testdata/GetCitiesMix.json", "cities-mix fixture to refresh, empty to skip")
	cmd.Flags().StringVar(&proxy, "proxy", "", "proxy URL for the upstream requests")
	cmd.Flags().DurationVar(&timeout, "timeout", generator.DefaultFetchTimeout, "per-request timeout")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}
