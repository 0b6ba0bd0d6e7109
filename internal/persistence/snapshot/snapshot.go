package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	SiteID  string `json:"site_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 is the persisted site state. The navmesh is deliberately absent:
// it is rebuilt from the obstacle index on load.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Width      int `json:"width"`
	Height     int `json:"height"`
	SectorSize int `json:"sector_size"`
	TickRate   int `json:"tick_rate_hz"`

	Debug bool `json:"debug,omitempty"`

	Ground  []GroundChunkV1 `json:"ground,omitempty"`
	Objects []ObjectV1      `json:"objects"`

	UtilityNodes []UtilityNodeV1 `json:"utility_nodes"`
	UtilityEdges []UtilityEdgeV1 `json:"utility_edges"`

	Tasks     []TaskV1     `json:"tasks"`
	Employees []EmployeeV1 `json:"employees"`
	Agents    []AgentV1    `json:"agents"`

	Counters CountersV1 `json:"counters"`
}

type CountersV1 struct {
	NextObject uint64 `json:"next_object"`
	NextTask   uint64 `json:"next_task"`
	NextAgent  uint64 `json:"next_agent"`
	TaskSeq    uint64 `json:"task_seq"`
}

type GroundChunkV1 struct {
	CX     int     `json:"cx"`
	CY     int     `json:"cy"`
	Size   int     `json:"size"`
	Ground []uint8 `json:"ground"`
}

type ObjectV1 struct {
	ID         uint64 `json:"id"`
	Kind       string `json:"kind"`
	Min        [2]int `json:"min"`
	W          int    `json:"w"`
	H          int    `json:"h"`
	Built      bool   `json:"built,omitempty"`
	PlacedTick uint64 `json:"placed_tick,omitempty"`
}

type UtilityNodeV1 struct {
	ID       string   `json:"id"`
	Sources  []string `json:"sources,omitempty"`
	Requires []string `json:"requires,omitempty"`
}

type UtilityEdgeV1 struct {
	A     string   `json:"a"`
	B     string   `json:"b"`
	Types []string `json:"types"`
}

type TaskV1 struct {
	ID          uint64  `json:"id"`
	Kind        string  `json:"kind"`
	Location    [2]int  `json:"location"`
	Priority    int     `json:"priority"`
	Status      string  `json:"status"`
	Assignee    uint64  `json:"assignee,omitempty"`
	Seq         uint64  `json:"seq"`
	WorkTicks   int     `json:"work_ticks,omitempty"`
	Progress    float64 `json:"progress,omitempty"`
	CreatedTick uint64  `json:"created_tick"`
	Object      uint64  `json:"object,omitempty"`
}

type EmployeeV1 struct {
	ID              uint64             `json:"id"`
	Name            string             `json:"name"`
	Specializations []string           `json:"specializations,omitempty"`
	Capabilities    []string           `json:"capabilities,omitempty"`
	Efficiency      map[string]float64 `json:"efficiency,omitempty"`
	Seniority       int                `json:"seniority"`
}

type AgentV1 struct {
	ID       uint64   `json:"id"`
	Kind     string   `json:"kind"`
	Name     string   `json:"name"`
	Pos      [2]int   `json:"pos"`
	Class    string   `json:"class"`
	Goal     [2]int   `json:"goal"`
	HasGoal  bool     `json:"has_goal,omitempty"`
	Route    [][2]int `json:"route,omitempty"`
	RouteIdx int      `json:"route_idx,omitempty"`
	Task     uint64   `json:"task,omitempty"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is informational; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}
