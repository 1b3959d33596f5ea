package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jward/paddock"
	"github.com/jward/paddock/internal/models"
	"github.com/jward/paddock/internal/script"
)

var listCmd = &cobra.Command{
	Use:   "list FILE...",
	Short: "List the jobs the given definitions expand to",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runList,
}

func init() {
	addExpandFlags(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
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
	reg := models.NewRegistry(script.NewRuntime(""))
	plan, err := paddock.ExpandDefinitions(reg, names, ovs, defs...)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range plan.Names() {
		fmt.Fprintln(out, name)
	}
	return nil
}
