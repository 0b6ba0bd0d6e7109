package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"campsite.sim/internal/persistence/indexdb"
)

func newHistoryCommand() *cobra.Command {
	var dbPath string
	var task uint64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a task's recorded state transitions from the read model",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := indexdb.OpenSQLite(dbPath)
			if err != nil {
				return err
			}
			defer idx.Close()

			rows, err := idx.TaskHistory(context.Background(), task)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintf(out, "no transitions recorded for task %d\n", task)
				return nil
			}
			for _, r := range rows {
				line := fmt.Sprintf("tick=%-8d %-12s %s -> %s", r.Tick, r.Kind, r.From, r.To)
				if r.Employee != 0 {
					line += fmt.Sprintf(" employee=%d", r.Employee)
				}
				if r.Reason != "" {
					line += " reason=" + r.Reason
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "path to site.sqlite")
	cmd.Flags().Uint64Var(&task, "task", 0, "task id")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
