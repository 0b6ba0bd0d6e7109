package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"campsite.sim/internal/persistence/snapshot"
	"campsite.sim/internal/sim/catalogs"
	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/site"
	"campsite.sim/internal/sim/tuning"
)

type rootOptions struct {
	configDir  string
	tuningPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "campctl",
		Short: "Offline tools for campsite data",
		Long: `campctl inspects snapshots, answers route and supply queries against them,
replays tick logs to verify digests, queries the SQLite read model and
sends edits to a running server.

Examples:
  campctl inspect data/sites/campsite/snapshots/3000.snap.zst
  campctl route data/sites/campsite/snapshots/3000.snap.zst --from 0,0 --to 40,12
  campctl supply data/sites/campsite/snapshots/3000.snap.zst
  campctl replay --snapshot data/sites/campsite/snapshots/3000.snap.zst --site-dir data/sites/campsite
  campctl history --db data/sites/campsite/index/site.sqlite --task 12
  campctl archives --site-dir data/sites/campsite
  campctl edit --url ws://127.0.0.1:8080/v1/edits --file edits.jsonl`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVar(&opts.configDir, "configs", "./configs", "config directory (objects.json)")
	root.PersistentFlags().StringVar(&opts.tuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")

	root.AddCommand(newInspectCommand())
	root.AddCommand(newRouteCommand(opts))
	root.AddCommand(newSupplyCommand(opts))
	root.AddCommand(newReplayCommand(opts))
	root.AddCommand(newHistoryCommand())
	root.AddCommand(newArchivesCommand())
	root.AddCommand(newEditCommand())
	return root
}

// loadSite builds a site from the configured catalogs and tuning and
// imports the snapshot at path into it.
func (o *rootOptions) loadSite(path string) (*site.Site, snapshot.SnapshotV1, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return nil, snap, fmt.Errorf("read snapshot: %w", err)
	}
	cats, err := catalogs.Load(o.configDir)
	if err != nil {
		return nil, snap, fmt.Errorf("load catalogs: %w", err)
	}
	tp := o.tuningPath
	if tp == "" {
		tp = filepath.Join(o.configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		return nil, snap, fmt.Errorf("load tuning: %w", err)
	}
	s, err := site.New(tune, cats, nil)
	if err != nil {
		return nil, snap, err
	}
	if err := s.ImportSnapshot(snap); err != nil {
		return nil, snap, fmt.Errorf("import snapshot: %w", err)
	}
	return s, snap, nil
}

func parsePos(v string) (grid.Pos, error) {
	xs, ys, ok := strings.Cut(v, ",")
	if !ok {
		return grid.Pos{}, fmt.Errorf("bad position %q (want x,y)", v)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return grid.Pos{}, fmt.Errorf("bad position %q: %w", v, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return grid.Pos{}, fmt.Errorf("bad position %q: %w", v, err)
	}
	return grid.Pos{X: x, Y: y}, nil
}
