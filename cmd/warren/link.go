package main

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/warren/internal/config"
	"github.com/bamsammich/warren/internal/links"
	"github.com/bamsammich/warren/internal/ui"
)

// newLinkCmd groups the local link operations. They act on the sandbox
// directly without a running server.
func newLinkCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Create, inspect and remove links in the sandbox",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "symlink <source> <target>",
		Short: "Create a symlink at target pointing at source",
		Args:  cobra.ExactArgs(2),
		RunE: withService(opts, func(ctx context.Context, svc *links.Service, p *ui.Printer, args []string) error {
			res, err := svc.CreateSymlink(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return p.LinkResult(res)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "hardlink <source> <target>",
		Short: "Create a hard link at target for the file at source",
		Args:  cobra.ExactArgs(2),
		RunE: withService(opts, func(ctx context.Context, svc *links.Service, p *ui.Printer, args []string) error {
			res, err := svc.CreateHardLink(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return p.LinkResult(res)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <link>",
		Short: "Show where a symlink points and whether it is broken",
		Args:  cobra.ExactArgs(1),
		RunE: withService(opts, func(ctx context.Context, svc *links.Service, p *ui.Printer, args []string) error {
			res, err := svc.InspectSymlink(ctx, args[0])
			if err != nil {
				return err
			}
			return p.SymlinkTarget(res)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retarget <link> <new-target>",
		Short: "Point an existing symlink at a new target",
		Args:  cobra.ExactArgs(2),
		RunE: withService(opts, func(ctx context.Context, svc *links.Service, p *ui.Printer, args []string) error {
			res, err := svc.UpdateSymlink(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return p.UpdateResult(res)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <path>",
		Short: "Remove one file or symlink name",
		Args:  cobra.ExactArgs(1),
		RunE: withService(opts, func(ctx context.Context, svc *links.Service, p *ui.Printer, args []string) error {
			if err := svc.DeleteLink(ctx, args[0]); err != nil {
				return err
			}
			return p.Removed(args[0])
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "find <file>",
		Short: "List the other names of a file's inode",
		Args:  cobra.ExactArgs(1),
		RunE: withService(opts, func(ctx context.Context, svc *links.Service, p *ui.Printer, args []string) error {
			set, err := svc.FindHardLinks(ctx, args[0])
			if err != nil {
				return err
			}
			return p.HardLinkSet(set)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm-all <file>",
		Short: "Remove every other name of a file's inode, keeping the file itself",
		Args:  cobra.ExactArgs(1),
		RunE: withService(opts, func(ctx context.Context, svc *links.Service, p *ui.Printer, args []string) error {
			res, err := svc.DeleteAllLinks(ctx, args[0])
			if err != nil {
				return err
			}
			if err := p.DeleteAllResult(res); err != nil {
				return err
			}
			if len(res.Skipped) > 0 {
				return &exitError{code: 1}
			}
			return nil
		}),
	})

	return cmd
}

func newResolveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <path>",
		Short: "Print the absolute location of a sandbox path",
		Args:  cobra.ExactArgs(1),
		RunE: withService(opts, func(_ context.Context, svc *links.Service, p *ui.Printer, args []string) error {
			abs, err := svc.ResolvePath(args[0])
			if err != nil {
				return err
			}
			return p.Resolved(args[0], abs)
		}),
	}
}

func newSettingsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the effective settings after config file and flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath := opts.configPath
			if cfgPath == "" {
				cfgPath = config.Path()
			}
			p := opts.printer(cmd.OutOrStdout())
			ix := opts.indexerConfig(nil)
			rules := opts.chain.Patterns()
			if opts.jsonOut {
				return p.JSON(map[string]any{
					"config":   cfgPath,
					"root":     opts.root,
					"workers":  ix.Workers,
					"maxDepth": ix.MaxDepth,
					"statRate": opts.statRate,
					"filter":   rules,
				})
			}
			statRate := "unlimited"
			if opts.statRate > 0 {
				statRate = strconv.Itoa(opts.statRate) + "/s"
			}
			filterRules := "none"
			if len(rules) > 0 {
				filterRules = strings.Join(rules, ", ")
			}
			p.KeyValues([][2]string{
				{"config", cfgPath},
				{"root", opts.root},
				{"workers", strconv.Itoa(ix.Workers)},
				{"max depth", strconv.Itoa(ix.MaxDepth)},
				{"stat rate", statRate},
				{"filter", filterRules},
			})
			return nil
		},
	}
}

// withService opens the sandbox and runs fn with a context cancelled on
// SIGINT or SIGTERM and a printer for the command's output.
func withService(
	opts *options,
	fn func(ctx context.Context, svc *links.Service, p *ui.Printer, args []string) error,
) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, err := opts.service(nil)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return fn(ctx, svc, opts.printer(cmd.OutOrStdout()), args)
	}
}
