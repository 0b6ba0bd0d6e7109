package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Tuning struct {
	SiteID string `yaml:"site_id" validate:"required"`

	Width      int `yaml:"width" validate:"gt=0,lte=4096"`
	Height     int `yaml:"height" validate:"gt=0,lte=4096"`
	SectorSize int `yaml:"sector_size" validate:"min=4,max=64"`

	TickRateHz         int `yaml:"tick_rate_hz" validate:"gt=0,lte=60"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" validate:"gte=0"`

	// VerifyNavmesh re-validates the mesh after every patch.
	VerifyNavmesh bool `yaml:"verify_navmesh"`
	// VerifyUtility checks the utility network after each write phase and
	// recomputes connectivity when it has drifted.
	VerifyUtility bool `yaml:"verify_utility"`
	Debug         bool `yaml:"debug"`

	Costs      Costs      `yaml:"costs"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
	Agents     Agents     `yaml:"agents"`
}

// Costs is the per-step traversal cost by ground kind.
type Costs struct {
	Grass    float64 `yaml:"grass" validate:"gt=0"`
	Pathway  float64 `yaml:"pathway" validate:"gt=0"`
	PoolPath float64 `yaml:"pool_path" validate:"gt=0"`
}

type Dispatcher struct {
	Workers          int `yaml:"workers" validate:"gte=0"`
	DefaultWorkTicks int `yaml:"default_work_ticks" validate:"gt=0"`
}

type Agents struct {
	// StepsPerTick is how many cells a walking agent advances per tick.
	StepsPerTick int `yaml:"steps_per_tick" validate:"gte=1,lte=16"`
	// RepathEveryTicks forces a route refresh for wandering visitors.
	RepathEveryTicks int `yaml:"repath_every_ticks" validate:"gte=0"`
}

func Defaults() Tuning {
	return Tuning{
		SiteID:             "campsite",
		Width:              64,
		Height:             48,
		SectorSize:         16,
		TickRateHz:         5,
		SnapshotEveryTicks: 3000,
		VerifyUtility:      true,
		Costs:              Costs{Grass: 1.0, Pathway: 0.6, PoolPath: 1.2},
		Dispatcher:         Dispatcher{DefaultWorkTicks: 10},
		Agents:             Agents{StepsPerTick: 1, RepathEveryTicks: 50},
	}
}

// Load reads a tuning file over Defaults. A missing file yields Defaults.
func Load(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			t := Defaults()
			return t, Validate(t)
		}
		return Tuning{}, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := Validate(t); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

var validate = validator.New()

func Validate(t Tuning) error {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s (value %v)", e.Namespace(), e.Tag(), e.Value()))
			}
			return fmt.Errorf("invalid tuning: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}
