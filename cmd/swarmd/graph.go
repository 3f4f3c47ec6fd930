package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show every task and its status",
	RunE:  runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	projection, err := db.StatusMap()
	if err != nil {
		return err
	}
	if len(projection) == 0 {
		fmt.Println("No tasks. Run 'swarmd enqueue <title>' to add one.")
		return nil
	}

	ids := make([]string, 0, len(projection))
	for id := range projection {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Printf("  %-30s %s\n", id, colorStatus(projection[id]))
	}
	return nil
}
