package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/warren/internal/config"
	"github.com/bamsammich/warren/internal/filter"
	"github.com/bamsammich/warren/internal/indexer"
	"github.com/bamsammich/warren/internal/linkerr"
	"github.com/bamsammich/warren/internal/links"
	"github.com/bamsammich/warren/internal/metrics"
	"github.com/bamsammich/warren/internal/sandbox"
	"github.com/bamsammich/warren/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "pattern" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

// options holds the flags shared by every subcommand plus the state built
// from them before a subcommand runs.
type options struct {
	configPath string
	root       string
	logFile    string
	filterFile string
	logLevel   string
	workers    int
	maxDepth   int
	statRate   int
	verbose    bool
	quiet      bool
	jsonOut    bool

	chain    *filter.Chain
	cfg      config.Config
	closeLog func()
}

func run() int {
	opts := &options{chain: filter.NewChain(), closeLog: func() {}}
	rootCmd := newRootCmd(opts)
	defer func() { opts.closeLog() }()

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if linkerr.CodeOf(err) != 0 {
			return 1
		}
		return 2
	}
	return 0
}

func newRootCmd(opts *options) *cobra.Command {
	var showVersion bool

	rootCmd := &cobra.Command{
		Use:   "warren",
		Short: "Sandboxed symlink and hard-link management",
		Long: `warren manages symbolic and hard links inside a single sandbox root.

Every path is relative to the root and may not escape it. Hard links are
found by inode identity: warren checks the origin's own directory first and
walks the rest of the tree only when that does not account for every link.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.prepare(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "warren %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/warren/config.toml)")
	pf.StringVar(&opts.root, "root", "", "sandbox root (default: $WARREN_ROOT, $BASE_PATH or "+config.DefaultRoot+")")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress all output except errors")
	pf.StringVar(&opts.logFile, "log", "", "write structured JSON log to FILE")
	pf.BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	pf.IntVarP(&opts.workers, "workers", "n", 0, "tree walk workers (default: min(NumCPU, 8))")
	pf.IntVar(&opts.maxDepth, "max-depth", indexer.DefaultMaxDepth, "deepest directory level the tree walk lists")
	pf.IntVar(&opts.statRate, "stat-rate", 0, "cap tree walk lstat calls per second (0 = unlimited)")

	// Filter flags use a custom pflag.Value to preserve CLI ordering.
	pf.Var(&filterFlag{chain: opts.chain}, "exclude", "skip directories matching PATTERN during the tree walk (repeatable)")
	pf.Var(&filterFlag{chain: opts.chain, include: true}, "include", "descend into directories matching PATTERN (repeatable)")
	pf.StringVar(&opts.filterFile, "filter", "", "read tree walk filter rules from FILE")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newLinkCmd(opts))
	rootCmd.AddCommand(newResolveCmd(opts))
	rootCmd.AddCommand(newSettingsCmd(opts))
	rootCmd.AddCommand(newDocsCmd())
	return rootCmd
}

// prepare loads the config file, fills unset flags from it and installs the
// default logger.
func (o *options) prepare(cmd *cobra.Command) error {
	var err error
	if o.configPath != "" {
		o.cfg, err = config.LoadFile(o.configPath)
	} else {
		o.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	applyConfigDefaults(cmd, o.cfg, o)
	if o.root == "" {
		o.root = config.RootFromEnv()
	}

	if o.filterFile != "" {
		if err := o.chain.LoadFile(o.filterFile); err != nil {
			return err
		}
	}
	// Config rules come after CLI rules so the CLI wins on first match.
	if err := o.chain.Append(o.cfg.Scan.Exclude...); err != nil {
		return fmt.Errorf("config scan.exclude: %w", err)
	}

	ui.ApplyTheme(o.cfg.Theme)
	return o.setupLogging()
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyConfigDefaults(cmd *cobra.Command, cfg config.Config, o *options) {
	flags := cmd.Flags()
	if !flags.Changed("root") && cfg.Server.Root != nil {
		o.root = *cfg.Server.Root
	}
	if !flags.Changed("workers") && cfg.Scan.Workers != nil {
		o.workers = *cfg.Scan.Workers
	}
	if !flags.Changed("max-depth") && cfg.Scan.MaxDepth != nil {
		o.maxDepth = *cfg.Scan.MaxDepth
	}
	if !flags.Changed("stat-rate") && cfg.Scan.StatRate != nil {
		o.statRate = *cfg.Scan.StatRate
	}
	if !flags.Changed("log") && cfg.Log.File != nil {
		o.logFile = *cfg.Log.File
	}
	if cfg.Log.Level != nil {
		o.logLevel = *cfg.Log.Level
	}
}

// level picks the stderr log level. --verbose and --quiet beat the config.
func (o *options) level() slog.Level {
	switch {
	case o.verbose:
		return slog.LevelDebug
	case o.quiet:
		return slog.LevelWarn
	}
	lvl := slog.LevelInfo
	if o.logLevel != "" {
		if err := lvl.UnmarshalText([]byte(o.logLevel)); err != nil {
			return slog.LevelInfo
		}
	}
	return lvl
}

func (o *options) setupLogging() error {
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: o.level(),
	})
	var logHandler slog.Handler = textHandler
	if o.logFile != "" {
		lf, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		o.closeLog = func() { _ = lf.Close() }
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	slog.SetDefault(slog.New(logHandler))
	return nil
}

// indexerConfig builds the tree walk settings from the flags.
func (o *options) indexerConfig(m *metrics.Metrics) indexer.Config {
	cfg := indexer.Config{
		MaxDepth: o.maxDepth,
		Workers:  o.workers,
		Metrics:  m,
	}
	if cfg.Workers <= 0 {
		cfg.Workers = indexer.DefaultWorkers()
	}
	if !o.chain.Empty() {
		cfg.Exclude = o.chain
	}
	if o.statRate > 0 {
		cfg.Limiter = indexer.NewStatLimiter(o.statRate)
	}
	return cfg
}

// service opens the sandbox and builds the link service over it.
func (o *options) service(m *metrics.Metrics, svcOpts ...links.Option) (*links.Service, error) {
	sb, err := sandbox.New(o.root)
	if err != nil {
		return nil, err
	}
	ix := indexer.New(sb, o.indexerConfig(m))
	svcOpts = append(svcOpts, links.WithMetrics(m))
	return links.New(sb, ix, svcOpts...), nil
}

// printer writes command results to w, coloured only for a terminal.
func (o *options) printer(w io.Writer) *ui.Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = ui.ColorEnabled(f.Fd())
	}
	return ui.NewPrinter(w, color, o.jsonOut)
}

var _ pflag.Value = (*filterFlag)(nil)
