package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jward/paddock"
	"github.com/jward/paddock/internal/config"
	"github.com/jward/paddock/internal/job"
	"github.com/jward/paddock/internal/loader"
	"github.com/jward/paddock/internal/logging"
	"github.com/jward/paddock/internal/metrics"
	"github.com/jward/paddock/internal/model"
	"github.com/jward/paddock/internal/notify"
	"github.com/jward/paddock/internal/server"
)

var (
	flagCPUCount       int
	flagSingleThreaded bool
	flagNames          string
	flagCSV            bool
	flagVerbose        bool
	flagSet            []string
	flagEdit           string
	flagDB             string
	flagListen         string
	flagRedisAddr      string
	flagRecurse        bool
	flagScriptsDir     string
)

var runCmd = &cobra.Command{
	Use:   "run FILE...",
	Short: "Run every simulation in the given definitions",
	Long:  "Expands the definition files into jobs, runs them and writes their output to a SQLite database. Directories are searched for *.yaml definitions.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.IntVar(&flagCPUCount, "cpu-count", 0, "maximum concurrent jobs (default from PADDOCK_CPU_COUNT or one per CPU)")
	f.BoolVar(&flagSingleThreaded, "single-threaded", false, "run jobs one at a time")
	f.BoolVar(&flagCSV, "csv", false, "export every output table to CSV next to the database")
	f.BoolVar(&flagVerbose, "verbose", false, "print a line as each job finishes")
	f.StringVar(&flagDB, "db", "", "results database (default: first definition with a .db extension)")
	f.StringVar(&flagListen, "listen", "", "serve /health, /status and /metrics on this address")
	f.StringVar(&flagRedisAddr, "redis-addr", "", "publish job events to the Redis server at this address")
	f.StringVar(&flagScriptsDir, "scripts-dir", "", "resolve Manager imports from this directory instead of the embedded library")
	addExpandFlags(runCmd)
}

// addExpandFlags registers the flags shared by run and list.
func addExpandFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flagNames, "simulation-names", "", "only jobs whose name matches this regular expression")
	f.StringArrayVar(&flagSet, "set", nil, "override a parameter: 'path = value' (repeatable)")
	f.StringVar(&flagEdit, "edit", "", "file of 'path = value' overrides")
	f.BoolVar(&flagRecurse, "recurse", false, "search directory arguments recursively")
}

// loadConfig reads the environment and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("cpu-count") {
		cfg.CPUCount = flagCPUCount
	}
	if flags.Changed("single-threaded") {
		cfg.SingleThreaded = flagSingleThreaded
	}
	if flags.Changed("db") {
		cfg.DB = flagDB
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = flagListen
	}
	if flags.Changed("redis-addr") {
		cfg.Redis.Addr = flagRedisAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = flagLogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// overrides collects --edit file entries followed by --set assignments.
func overrides() ([]model.Override, error) {
	var ovs []model.Override
	if flagEdit != "" {
		fromFile, err := loader.LoadOverrides(flagEdit)
		if err != nil {
			return nil, err
		}
		ovs = append(ovs, fromFile...)
	}
	for _, s := range flagSet {
		o, err := loader.ParseAssignment(s)
		if err != nil {
			return nil, err
		}
		ovs = append(ovs, o)
	}
	return ovs, nil
}

func namesFilter() (*regexp.Regexp, error) {
	if flagNames == "" {
		return nil, nil
	}
	re, err := regexp.Compile(flagNames)
	if err != nil {
		return nil, fmt.Errorf("invalid --simulation-names: %w", err)
	}
	return re, nil
}

// loadDefinitions resolves file and directory arguments and loads each one.
func loadDefinitions(args []string) ([]*paddock.Definition, error) {
	files, err := paddock.FindDefinitions(args, flagRecurse)
	if err != nil {
		return nil, err
	}
	defs := make([]*paddock.Definition, 0, len(files))
	for _, f := range files {
		def, err := paddock.LoadDefinition(f)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// resolveDBPath returns the configured database or one named after the
// first definition file.
func resolveDBPath(cfg *config.Config, defs []*paddock.Definition) string {
	if cfg.DB != "" {
		return cfg.DB
	}
	first := defs[0].File
	return strings.TrimSuffix(first, filepath.Ext(first)) + ".db"
}

func runRun(cmd *cobra.Command, args []string) error {
	start := time.Now()
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	defs, err := loadDefinitions(args)
	if err != nil {
		return err
	}
	ovs, err := overrides()
	if err != nil {
		return err
	}
	names, err := namesFilter()
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	opts := []paddock.Option{
		paddock.WithLogger(logger),
		paddock.WithConcurrency(cfg.CPUCount),
		paddock.WithSingleThreaded(cfg.SingleThreaded),
		paddock.WithProgressInterval(cfg.ProgressInterval),
		paddock.WithRecorder(collector),
		paddock.WithOverrides(ovs...),
	}
	if flagScriptsDir != "" {
		opts = append(opts, paddock.WithScriptsDir(flagScriptsDir))
	}
	if flagVerbose {
		opts = append(opts, paddock.WithListener(consoleListener(stdout)))
	}

	dbPath := resolveDBPath(cfg, defs)
	engine, err := paddock.New(dbPath, opts...)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	plan, err := engine.Expand(names, defs...)
	if err != nil {
		return err
	}

	if cfg.ListenAddr != "" {
		srv := server.New(cfg.ListenAddr, server.NewHandler(engine, collector.Handler()), logger)
		if _, err := srv.Start(); err != nil {
			return fmt.Errorf("starting status listener: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	var listeners []job.Listener
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		listeners = append(listeners, notify.NewStreamPublisher(client, cfg.Redis.Stream, plan.ID, logger))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := engine.Run(ctx, plan, listeners...)
	if err != nil {
		return err
	}

	if flagCSV {
		base := strings.TrimSuffix(dbPath, filepath.Ext(dbPath))
		paths, err := engine.ExportCSV(context.WithoutCancel(ctx), base)
		if err != nil {
			summary.AddError(err)
		}
		logger.Debug("csv export", zap.Strings("files", paths))
	}

	if summary.Failed() {
		printErrors(stderr, summary)
		return &exitError{code: summary.ExitCode()}
	}
	if flagVerbose {
		fmt.Fprintf(stdout, "Finished running %d simulations. Duration %.2f seconds.\n",
			len(summary.Results), time.Since(start).Seconds())
	}
	return nil
}

// consoleListener prints one line per finished job.
func consoleListener(w io.Writer) job.Listener {
	return job.ListenerFuncs{
		OnJob: func(c job.Completed) {
			fmt.Fprintf(w, "%s has finished. Elapsed time was %.2f seconds.\n", c.Name, c.Elapsed.Seconds())
		},
	}
}

func printErrors(w io.Writer, s job.Summary) {
	for _, err := range s.Errors {
		fmt.Fprintln(w, err)
	}
	fmt.Fprintln(w, "ERRORS FOUND!!")
}
