package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"campsite.sim/internal/persistence/archive"
)

func newArchivesCommand() *cobra.Command {
	var siteDir string
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List live snapshots and archived milestones of a site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			live, err := archive.Snapshots(siteDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "snapshots: %d\n", len(live))
			for _, e := range live {
				fmt.Fprintf(out, "  tick=%-10d %s\n", e.Tick, e.Path)
			}
			metas, err := archive.Milestones(siteDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "archives: %d\n", len(metas))
			for _, m := range metas {
				fmt.Fprintf(out, "  tick=%-10d %dx%d objects=%d tasks=%d agents=%d created=%s\n",
					m.Tick, m.Width, m.Height, m.Objects, m.Tasks, m.Agents, m.CreatedAt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&siteDir, "site-dir", "", "site data directory (data/sites/<id>)")
	_ = cmd.MarkFlagRequired("site-dir")
	return cmd
}
