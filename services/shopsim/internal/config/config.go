// Package config loads and validates the simulator's fleet description.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"floorsight/services/shopsim/internal/sim"
)

//go:embed fleet.yaml
var defaultFleet []byte

// Machine describes one machine in a fleet file.
type Machine struct {
	ID            string  `yaml:"id"`
	Class         string  `yaml:"class"`
	TempBase      float64 `yaml:"temp_base"`
	TempThreshold float64 `yaml:"temp_threshold"`
	VibBase       float64 `yaml:"vib_base"`
	VibThreshold  float64 `yaml:"vib_threshold"`
	RepairTicks   int     `yaml:"repair_ticks"`
}

// Fleet is the simulator configuration: the machines plus scheduling knobs.
type Fleet struct {
	Machines    []Machine `yaml:"machines"`
	SeedJobs    int       `yaml:"seed_jobs"`
	IHAInterval int       `yaml:"iha_interval"`
}

// Default returns the fleet compiled into the binary.
func Default() (Fleet, error) {
	return parse(defaultFleet)
}

// Load reads a fleet file from disk.
func Load(path string) (Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fleet{}, fmt.Errorf("read fleet file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (Fleet, error) {
	var f Fleet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fleet{}, fmt.Errorf("unmarshal fleet: %w", err)
	}
	f.applyDefaults()
	if err := f.validate(); err != nil {
		return Fleet{}, err
	}
	return f, nil
}

func (f *Fleet) applyDefaults() {
	if f.SeedJobs == 0 {
		f.SeedJobs = 20
	}
	if f.IHAInterval == 0 {
		f.IHAInterval = 10
	}
}

func (f *Fleet) validate() error {
	if len(f.Machines) == 0 {
		return fmt.Errorf("fleet must declare at least one machine")
	}
	if f.SeedJobs < 0 {
		return fmt.Errorf("seed_jobs must be >= 0, got %d", f.SeedJobs)
	}
	if f.IHAInterval < 1 {
		return fmt.Errorf("iha_interval must be >= 1, got %d", f.IHAInterval)
	}
	seen := make(map[string]struct{}, len(f.Machines))
	for i, m := range f.Machines {
		if m.ID == "" {
			return fmt.Errorf("machine %d: id is required", i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("machine %d: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Class == "" {
			return fmt.Errorf("machine %q: class is required", m.ID)
		}
		if m.TempThreshold <= m.TempBase {
			return fmt.Errorf("machine %q: temp_threshold %.1f must exceed temp_base %.1f", m.ID, m.TempThreshold, m.TempBase)
		}
		if m.VibThreshold <= m.VibBase {
			return fmt.Errorf("machine %q: vib_threshold %.1f must exceed vib_base %.1f", m.ID, m.VibThreshold, m.VibBase)
		}
		if m.RepairTicks < 1 {
			return fmt.Errorf("machine %q: repair_ticks must be >= 1, got %d", m.ID, m.RepairTicks)
		}
	}
	return nil
}

// Params converts the fleet into simulator machine parameters.
func (f Fleet) Params() []sim.MachineParams {
	out := make([]sim.MachineParams, len(f.Machines))
	for i, m := range f.Machines {
		out[i] = sim.MachineParams{
			ID:            m.ID,
			Class:         m.Class,
			TempBase:      m.TempBase,
			TempThreshold: m.TempThreshold,
			VibBase:       m.VibBase,
			VibThreshold:  m.VibThreshold,
			RepairTicks:   m.RepairTicks,
		}
	}
	return out
}
