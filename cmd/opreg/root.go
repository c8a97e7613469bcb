package main

import (
	"fmt"
	"os"

	internal "github.com/ZanzyTHEbar/operator-registry/opreg"
	"github.com/ZanzyTHEbar/operator-registry/opreg/config"
	"github.com/ZanzyTHEbar/operator-registry/opreg/service"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries the state shared by every subcommand.
type app struct {
	cfgFile  string
	verbose  bool
	noCache  bool
	noInterp bool

	logger zerolog.Logger
	cfg    *config.Config
	svc    *service.Service
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   internal.DefaultAppName,
		Short: "Operator discovery and registry",
		Long: `opreg scans the operator home, group homes and install tree for
compiled operators, declarative and interpreted scripts, and archives of them.
The resulting registry is cached between runs and rebuilt when any artifact
or the configuration changes.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./config.yaml or "+internal.DefaultGlobalConfig+")")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVar(&a.noCache, "no-cache", false, "ignore and do not write the snapshot")
	root.PersistentFlags().BoolVar(&a.noInterp, "no-interpreter", false, "skip interpreted scripts")

	root.AddCommand(
		a.listCmd(),
		a.showCmd(),
		a.datasetsCmd(),
		a.categoriesCmd(),
		a.findCmd(),
		a.rootsCmd(),
		a.rehashCmd(),
		a.clearCacheCmd(),
		a.watchCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level := zerolog.InfoLevel
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: !isTerminal()}).
		Level(level).
		With().Timestamp().Logger()

	cfg, err := config.LoadConfig(a.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	opts := []service.Option{service.WithLogger(a.logger)}
	if a.noCache {
		opts = append(opts, service.WithoutCache())
	}
	if a.noInterp {
		opts = append(opts, service.WithoutInterpreter())
	}
	a.svc = service.New(cfg.Registry, opts...)
	a.logger.Debug().
		Str("home", cfg.Registry.HomeDir).
		Str("install", cfg.Registry.InstallDir).
		Str("cache", cfg.Registry.CacheFile).
		Msg("Configuration loaded")
	return nil
}

func isTerminal() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}
