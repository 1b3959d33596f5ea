package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/paddock/internal/store"
)

var flagFormat string

var queryCmd = &cobra.Command{
	Use:   "query DB SQL",
	Short: "Run SQL against a results database",
	Long:  "Runs one SQL statement against a results database and prints the rows as an aligned table or as JSON.",
	Args:  cobra.ExactArgs(2),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&flagFormat, "format", "table", "output format: "+strings.Join(validFormats, "|"))
}

func runQuery(cmd *cobra.Command, args []string) error {
	dbPath, sql := args[0], args[1]
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database not found: %s", dbPath)
	}
	s, err := store.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.Query(cmd.Context(), "query", sql)
	if err != nil {
		return err
	}
	if flagFormat == "json" {
		return formatJSON(cmd.OutOrStdout(), t)
	}
	formatTable(cmd.OutOrStdout(), t)
	return nil
}
