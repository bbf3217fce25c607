// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command vpxdump inspects the VertiPaq model embedded inside a .pbix or
// .xlsx/.xlsm file: its schema, tables, relationships, and DAX/Power
// Query expressions.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	vertipaq "github.com/hugoberry/vertipaq-go"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vpxdump <file>",
		Short: "Inspect a VertiPaq model embedded in a .pbix or .xlsx file",
	}

	root.AddCommand(
		newSchemaCmd(),
		newTablesCmd(),
		newTableCmd(),
		newRelationshipsCmd(),
		newMeasuresCmd(),
		newPowerQueryCmd(),
	)
	return root
}

func openModel(path string) (*vertipaq.Model, error) {
	return vertipaq.Open(path, &vertipaq.Options{})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <file>",
		Short: "Print every table's column schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openModel(args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			schema, err := m.Schema()
			if err != nil {
				return err
			}
			return printJSON(schema)
		},
	}
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables <file>",
		Short: "List table names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openModel(args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			tables, err := m.Tables()
			if err != nil {
				return err
			}
			for _, t := range tables {
				fmt.Println(t)
			}
			return nil
		},
	}
}

func newTableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "table <file> <table-name>",
		Short: "Decode and print one table's rows as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openModel(args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			t, err := m.GetTable(args[1])
			if err != nil {
				return err
			}
			return printJSON(t)
		},
	}
}

func newRelationshipsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relationships <file>",
		Short: "Print the model's table relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openModel(args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			rels, err := m.Relationships()
			if err != nil {
				return err
			}
			return printJSON(rels)
		},
	}
}

func newMeasuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "measures <file>",
		Short: "Print the model's DAX measures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openModel(args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			measures, err := m.DaxMeasures()
			if err != nil {
				return err
			}
			return printJSON(measures)
		},
	}
}

func newPowerQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "power-query <file>",
		Short: "Print the model's Power Query (M) expressions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openModel(args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			exprs, err := m.PowerQueryExpressions()
			if err != nil {
				return err
			}
			return printJSON(exprs)
		},
	}
}
