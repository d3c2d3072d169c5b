package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"roam/internal/modules/intent"
	"roam/internal/modules/query"
)

var detectCmd = &cobra.Command{
	Use:   "detect <message>",
	Short: "Run the keyword intent detector on a message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := intent.MustDefault().Detect(strings.Join(args, " "))
		printJSON(cmd.OutOrStdout(), map[string]any{"intents": d.Names(), "category": d.Category()})
		return nil
	},
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize <location>",
	Short: "Normalize free-text location against the lookup tables",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tables := query.MustDefaultTables()
		raw := strings.Join(args, " ")
		canonical, ok := tables.NormalizeLocation(raw)
		if !ok {
			return fmt.Errorf("%q: %w", raw, query.ErrUnknownLocation)
		}
		printJSON(cmd.OutOrStdout(), map[string]any{"location": canonical, "metro": tables.Metro(canonical)})
		return nil
	},
}

var composeFile string

var composeCmd = &cobra.Command{
	Use:   "compose [query-json]",
	Short: "Print the predicate set for a SearchQuery given as JSON (argument, --file or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw []byte
		switch {
		case len(args) == 1:
			raw = []byte(args[0])
		case composeFile != "":
			b, err := os.ReadFile(composeFile)
			if err != nil {
				return err
			}
			raw = b
		default:
			dec := json.NewDecoder(cmd.InOrStdin())
			var m json.RawMessage
			if err := dec.Decode(&m); err != nil {
				return fmt.Errorf("read query from stdin: %w", err)
			}
			raw = m
		}
		var q query.SearchQuery
		if err := json.Unmarshal(raw, &q); err != nil {
			return fmt.Errorf("decode query: %w", err)
		}
		set, err := query.NewComposer(query.MustDefaultTables()).Compose(q)
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), set)
		return nil
	},
}

func init() {
	composeCmd.Flags().StringVarP(&composeFile, "file", "f", "", "read the query from a file")
}
