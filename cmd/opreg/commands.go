package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/service"
	"github.com/ZanzyTHEbar/operator-registry/opreg/watch"

	"github.com/spf13/cobra"
)

func (a *app) listCmd() *cobra.Command {
	var (
		all      bool
		kinds    []string
		category string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operators in command order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.svc.Init(cmd.Context()); err != nil {
				return err
			}
			positions, err := a.selectPositions(all, kinds, category)
			if err != nil {
				return err
			}
			return writeInfos(cmd.OutOrStdout(), positions, a.svc.Info)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include hidden operators")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "only operators of these kinds (compiled, declarative, interpreted)")
	cmd.Flags().StringVar(&category, "category", "", "only operators filed below this category path")
	return cmd
}

// selectPositions intersects the filters, keeping command order.
func (a *app) selectPositions(all bool, kinds []string, category string) ([]int, error) {
	n := a.svc.Count()
	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}
	restrict := func(positions []int) {
		in := make([]bool, n)
		for _, p := range positions {
			in[p] = true
		}
		for i := range keep {
			keep[i] = keep[i] && in[i]
		}
	}

	if !all {
		restrict(a.svc.Visible())
	}
	if len(kinds) > 0 {
		parsed, err := parseKinds(kinds)
		if err != nil {
			return nil, err
		}
		restrict(a.svc.OfKind(parsed...))
	}
	if category != "" {
		restrict(a.svc.ByCategory(category))
	}

	var out []int
	for i, ok := range keep {
		if ok {
			out = append(out, i)
		}
	}
	return out, nil
}

func parseKinds(names []string) ([]artifact.Kind, error) {
	out := make([]artifact.Kind, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "compiled":
			out = append(out, artifact.KindCompiled)
		case "declarative":
			out = append(out, artifact.KindDeclarative)
		case "interpreted":
			out = append(out, artifact.KindInterpreted)
		default:
			return nil, fmt.Errorf("unknown operator kind %q", name)
		}
	}
	return out, nil
}

func writeInfos(w io.Writer, positions []int, info func(int) (service.Info, error)) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCOMMAND\tARGS\tKIND\tCATEGORY\tTITLE")
	for _, i := range positions {
		in, err := info(i)
		if err != nil {
			return err
		}
		cats := in.Categories
		if len(cats) > 2 {
			cats = cats[2:]
		} else {
			cats = nil
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
			i, in.Command, in.NumArgs, in.Locator.Kind, strings.Join(cats, "/"), in.Title)
	}
	return tw.Flush()
}

func (a *app) showCmd() *cobra.Command {
	var byFile bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print every command, with the source file of scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.svc.Init(cmd.Context()); err != nil {
				return err
			}
			mode := service.ShowByCommand
			if byFile {
				mode = service.ShowByFile
			}
			return a.svc.Show(cmd.OutOrStdout(), mode)
		},
	}
	cmd.Flags().BoolVar(&byFile, "by-file", false, "order by source file instead of command")
	return cmd
}

func (a *app) datasetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List the data-set operators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.svc.Init(cmd.Context()); err != nil {
				return err
			}
			positions := make([]int, a.svc.NumDataSetOperators())
			for i := range positions {
				positions[i] = i
			}
			return writeInfos(cmd.OutOrStdout(), positions, a.svc.DataSetInfo)
		},
	}
}

func (a *app) categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the category paths in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.svc.Init(cmd.Context()); err != nil {
				return err
			}
			for _, p := range a.svc.Categories() {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func (a *app) findCmd() *cobra.Command {
	var nargs int
	cmd := &cobra.Command{
		Use:   "find <command>",
		Short: "Print the operator a command resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.Init(cmd.Context()); err != nil {
				return err
			}
			i := a.svc.FindFirstByCommand(args[0])
			if nargs >= 0 {
				i = a.svc.FindByCommandArgs(args[0], nargs)
			}
			if i < 0 {
				return fmt.Errorf("%w: %q", service.ErrUnknownCommand, args[0])
			}
			in, err := a.svc.Info(i)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "command:    %s\n", in.Command)
			fmt.Fprintf(w, "title:      %s\n", in.Title)
			fmt.Fprintf(w, "categories: %s\n", strings.Join(in.Categories, "/"))
			fmt.Fprintf(w, "arguments:  %d\n", in.NumArgs)
			fmt.Fprintf(w, "source:     %s\n", in.Locator)
			if in.Locator.TypeName != "" {
				fmt.Fprintf(w, "type:       %s\n", in.Locator.TypeName)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&nargs, "args", -1, "require this many parameters")
	return cmd
}

func (a *app) rootsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roots",
		Short: "Print the scan roots in search order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.svc.Init(cmd.Context()); err != nil {
				return err
			}
			for _, r := range a.svc.Roots() {
				var tags []string
				if r.Install {
					tags = append(tags, "install")
				}
				if r.Archive {
					tags = append(tags, "archive")
				}
				if r.DataSet {
					tags = append(tags, "dataset")
				}
				line := r.Path
				if len(tags) > 0 {
					line += "  (" + strings.Join(tags, ", ") + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func (a *app) rehashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rehash",
		Short: "Rescan every root and rewrite the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.svc.Rehash(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d operators, %d data-set operators\n",
				a.svc.Count(), a.svc.NumDataSetOperators())
			return nil
		},
	}
}

func (a *app) clearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete the registry snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.svc.ClearCache()
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rehash whenever operator artifacts change",
		Long: `watch follows the scan roots and rebuilds the registry and its snapshot
after artifacts are added, changed or removed. Roots that appear after the
command starts are picked up on restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := a.svc.Init(ctx); err != nil {
				return err
			}
			if delay <= 0 {
				delay = a.cfg.Registry.WatchDelay
			}
			w, err := watch.New(a.svc.Roots(), func(ctx context.Context, changed []string) error {
				a.logger.Info().Int("paths", len(changed)).Msg("Artifacts changed, rehashing")
				if err := a.svc.Rehash(ctx); err != nil {
					return err
				}
				a.logger.Info().
					Int("operators", a.svc.Count()).
					Int("dataset_operators", a.svc.NumDataSetOperators()).
					Msg("Registry rebuilt")
				return nil
			}, watch.WithDelay(delay), watch.WithLogger(a.logger))
			if err != nil {
				return err
			}
			a.logger.Info().Strs("dirs", w.Watched()).Msg("Watching operator roots")
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "quiet period before rehashing (default from config)")
	return cmd
}
