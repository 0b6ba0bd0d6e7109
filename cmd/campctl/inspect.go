package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"campsite.sim/internal/persistence/snapshot"
)

func newInspectCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <snapshot>",
		Short: "Print a snapshot's header and contents summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.ReadSnapshot(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			fmt.Fprintf(out, "snapshot v%d site=%s tick=%d size=%dx%d sector=%d tick_rate=%dHz debug=%v\n",
				snap.Header.Version, snap.Header.SiteID, snap.Header.Tick,
				snap.Width, snap.Height, snap.SectorSize, snap.TickRate, snap.Debug)
			fmt.Fprintf(out, "  objects:       %d\n", len(snap.Objects))
			for _, kc := range objectKinds(snap) {
				fmt.Fprintf(out, "    %-16s %d\n", kc.kind, kc.n)
			}
			fmt.Fprintf(out, "  utility nodes: %d\n", len(snap.UtilityNodes))
			fmt.Fprintf(out, "  utility edges: %d\n", len(snap.UtilityEdges))
			fmt.Fprintf(out, "  tasks:         %d\n", len(snap.Tasks))
			for _, sc := range taskStatuses(snap) {
				fmt.Fprintf(out, "    %-16s %d\n", sc.kind, sc.n)
			}
			fmt.Fprintf(out, "  employees:     %d\n", len(snap.Employees))
			fmt.Fprintf(out, "  agents:        %d\n", len(snap.Agents))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full snapshot as JSON")
	return cmd
}

type kindCount struct {
	kind string
	n    int
}

func objectKinds(snap snapshot.SnapshotV1) []kindCount {
	m := map[string]int{}
	for _, o := range snap.Objects {
		m[o.Kind]++
	}
	return sortedCounts(m)
}

func taskStatuses(snap snapshot.SnapshotV1) []kindCount {
	m := map[string]int{}
	for _, t := range snap.Tasks {
		m[t.Status]++
	}
	return sortedCounts(m)
}

func sortedCounts(m map[string]int) []kindCount {
	out := make([]kindCount, 0, len(m))
	for k, n := range m {
		out = append(out, kindCount{kind: k, n: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].kind < out[j].kind })
	return out
}
