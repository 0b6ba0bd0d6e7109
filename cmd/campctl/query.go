package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"campsite.sim/internal/sim/navmesh"
)

func newRouteCommand(opts *rootOptions) *cobra.Command {
	var from, to, class string
	cmd := &cobra.Command{
		Use:   "route <snapshot>",
		Short: "Find a route between two cells on a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parsePos(from)
			if err != nil {
				return err
			}
			goal, err := parsePos(to)
			if err != nil {
				return err
			}
			cat, ok := navmesh.ParseCategory(strings.ToUpper(class))
			if !ok {
				return fmt.Errorf("unknown class %q", class)
			}
			s, _, err := opts.loadSite(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			route, found := s.FindPath(start, goal, cat)
			if !found {
				fmt.Fprintf(out, "no %s route from %v to %v\n", cat, start, goal)
				return nil
			}
			fmt.Fprintf(out, "%s route %v -> %v cost=%.2f cells=%d regions=%d\n",
				cat, start, goal, route.Cost, len(route.Cells), len(route.Corridor))
			fmt.Fprintf(out, "  waypoints:")
			for _, p := range route.Waypoints {
				fmt.Fprintf(out, " (%d,%d)", p.X, p.Y)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start cell x,y")
	cmd.Flags().StringVar(&to, "to", "", "goal cell x,y")
	cmd.Flags().StringVar(&class, "class", "PEOPLE", "navigation class (PEOPLE or VEHICLES)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newSupplyCommand(opts *rootOptions) *cobra.Command {
	var onlyMissing bool
	cmd := &cobra.Command{
		Use:   "supply <snapshot>",
		Short: "Report which buildings have every utility they require",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := opts.loadSite(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			supplied := 0
			report := s.SupplyReport()
			for _, st := range report {
				if st.Supplied {
					supplied++
					if onlyMissing {
						continue
					}
				}
				status := "OK"
				if !st.Supplied {
					status = "MISSING " + strings.Join(st.Missing, ",")
				}
				fmt.Fprintf(out, "obj-%08d %-16s %s\n", st.Object, st.Kind, status)
			}
			fmt.Fprintf(out, "%d/%d buildings supplied\n", supplied, len(report))
			return nil
		},
	}
	cmd.Flags().BoolVar(&onlyMissing, "missing", false, "list only buildings with missing utilities")
	return cmd
}
