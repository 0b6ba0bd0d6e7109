package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"campsite.sim/internal/sim/utility"
)

//go:embed objects.schema.json
var objectsSchema string

//go:embed objects.json
var defaultObjects []byte

type Class string

const (
	ClassAccommodation Class = "ACCOMMODATION"
	ClassService       Class = "SERVICE"
	ClassSource        Class = "SOURCE"
	ClassConduit       Class = "CONDUIT"
	ClassDecor         Class = "DECOR"
)

type Layer string

const (
	LayerSurface     Layer = "SURFACE"
	LayerUnderground Layer = "UNDERGROUND"
)

type ObjectDef struct {
	ID                string   `json:"id"`
	Class             Class    `json:"class"`
	Footprint         [2]int   `json:"footprint"`
	Layer             Layer    `json:"layer,omitempty"`
	Requires          []string `json:"requires,omitempty"`
	Sources           []string `json:"sources,omitempty"`
	Carries           []string `json:"carries,omitempty"`
	BuildTicks        int      `json:"build_ticks,omitempty"`
	ServiceTask       string   `json:"service_task,omitempty"`
	ServiceEveryTicks int      `json:"service_every_ticks,omitempty"`

	requires utility.Set
	sources  utility.Set
	carries  utility.Set
}

// Underground objects do not occupy the obstacle index.
func (d ObjectDef) Underground() bool { return d.Layer == LayerUnderground }

func (d ObjectDef) RequiresSet() utility.Set { return d.requires }
func (d ObjectDef) SourcesSet() utility.Set  { return d.sources }

// Conducts is the set of utility types the object passes on to neighbours.
func (d ObjectDef) Conducts() utility.Set {
	return d.requires.Union(d.sources).Union(d.carries)
}

// OnNetwork reports whether the object takes part in the utility network.
func (d ObjectDef) OnNetwork() bool { return !d.Conducts().Empty() }

type Catalogs struct {
	Objects ObjectCatalog
}

type ObjectCatalog struct {
	ByID   map[string]ObjectDef
	IDs    []string
	Digest string
}

func (c ObjectCatalog) Get(id string) (ObjectDef, bool) {
	d, ok := c.ByID[id]
	return d, ok
}

// Load reads objects.json from configDir. When the directory has no
// objects.json the built-in catalog is used.
func Load(configDir string) (*Catalogs, error) {
	raw, err := os.ReadFile(filepath.Join(configDir, "objects.json"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		raw = defaultObjects
	}
	return Parse(raw)
}

// Default returns the built-in catalog.
func Default() *Catalogs {
	c, err := Parse(defaultObjects)
	if err != nil {
		panic(fmt.Sprintf("built-in objects.json: %v", err))
	}
	return c
}

func Parse(raw []byte) (*Catalogs, error) {
	var c Catalogs
	if err := loadObjects(raw, &c.Objects); err != nil {
		return nil, err
	}
	return &c, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("objects.schema.json", objectsSchema)
}

func loadObjects(raw []byte, out *ObjectCatalog) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("objects schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("objects.json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("objects.json: %w", err)
	}

	var defs []ObjectDef
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&defs); err != nil {
		return fmt.Errorf("objects.json: %w", err)
	}

	out.ByID = make(map[string]ObjectDef, len(defs))
	for _, d := range defs {
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("objects.json: duplicate id %s", d.ID)
		}
		if d.Layer == "" {
			d.Layer = LayerSurface
		}
		if d.requires, err = utility.ParseSet(d.Requires); err != nil {
			return fmt.Errorf("objects.json %s: %w", d.ID, err)
		}
		if d.sources, err = utility.ParseSet(d.Sources); err != nil {
			return fmt.Errorf("objects.json %s: %w", d.ID, err)
		}
		if d.carries, err = utility.ParseSet(d.Carries); err != nil {
			return fmt.Errorf("objects.json %s: %w", d.ID, err)
		}
		if d.Underground() && (d.Footprint != [2]int{1, 1}) {
			return fmt.Errorf("objects.json %s: underground objects must be 1x1", d.ID)
		}
		out.ByID[d.ID] = d
	}

	out.IDs = make([]string, 0, len(out.ByID))
	for id := range out.ByID {
		out.IDs = append(out.IDs, id)
	}
	sort.Strings(out.IDs)
	out.Digest = sha256Hex(raw)
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
