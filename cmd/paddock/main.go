package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	flagLogLevel  string
	flagLogFormat string
)

// exitError carries a process exit status out of RunE. Its message has
// already been printed.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the root command and maps its error onto an exit status.
func execute(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %s\n", err)
	return 1
}

var rootCmd = &cobra.Command{
	Use:           "paddock",
	Short:         "Run batches of daily-step crop and soil simulations",
	Long:          "Paddock expands simulation definitions into jobs, runs them on a worker pool and stores every job's output in a SQLite database.",
	SilenceErrors: true,
	SilenceUsage:  true,
	// No Run: prints help by default.
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the paddock version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "paddock "+version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (default from PADDOCK_LOG_LEVEL or info)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: console|json (default from PADDOCK_LOG_FORMAT or console)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(versionCmd)
}
