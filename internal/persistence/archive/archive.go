// Package archive keeps the snapshots directory bounded and copies milestone
// snapshots into <site>/archives.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"campsite.sim/internal/persistence/snapshot"
)

const snapSuffix = ".snap.zst"

// Entry is one snapshot file named <tick>.snap.zst.
type Entry struct {
	Tick uint64
	Path string
}

// Snapshots lists <siteDir>/snapshots in tick order. Other files are ignored
// and a missing directory is empty.
func Snapshots(siteDir string) ([]Entry, error) {
	dir := filepath.Join(siteDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapSuffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, snapSuffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{Tick: tick, Path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

// Prune deletes all but the newest keep snapshots and returns what it
// removed. keep <= 0 keeps everything.
func Prune(siteDir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	all, err := Snapshots(siteDir)
	if err != nil || len(all) <= keep {
		return nil, err
	}
	var removed []string
	for _, e := range all[:len(all)-keep] {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, e.Path)
	}
	return removed, nil
}

type Meta struct {
	SiteID    string `json:"site_id"`
	Tick      uint64 `json:"tick"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Objects   int    `json:"objects"`
	Tasks     int    `json:"tasks"`
	Agents    int    `json:"agents"`
}

// Milestone copies snapshotPath into <siteDir>/archives/tick_<tick>/ when the
// snapshot tick is a positive multiple of every. It reports whether it did.
func Milestone(siteDir, snapshotPath string, snap snapshot.SnapshotV1, every uint64) (string, bool, error) {
	tick := snap.Header.Tick
	if every == 0 || tick == 0 || tick%every != 0 {
		return "", false, nil
	}
	dir := filepath.Join(siteDir, "archives", fmt.Sprintf("tick_%012d", tick))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}
	meta := Meta{
		SiteID:    snap.Header.SiteID,
		Tick:      tick,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Width:     snap.Width,
		Height:    snap.Height,
		Objects:   len(snap.Objects),
		Tasks:     len(snap.Tasks),
		Agents:    len(snap.Agents),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// Milestones reads every archives/*/meta.json in tick order.
func Milestones(siteDir string) ([]Meta, error) {
	paths, err := filepath.Glob(filepath.Join(siteDir, "archives", "*", "meta.json"))
	if err != nil {
		return nil, err
	}
	out := make([]Meta, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var m Meta
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
