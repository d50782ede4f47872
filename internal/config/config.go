// Package config provides unified configuration loading for bioflux.
// It supports loading from YAML files and environment variables and is the
// gate for all configuration errors: a config that passes Validate() is the
// immutable settings object every other component consumes.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config contains all bioflux simulation settings.
type Config struct {
	// World describes the cluster geometry built during the seed phase.
	World WorldConfig `json:"world" yaml:"world"`

	// Ions lists the enabled ion species by name.
	Ions []string `json:"ions" yaml:"ions"`

	// Channels are the enabled membrane channel populations.
	Channels []ChannelConfig `json:"channels" yaml:"channels"`

	// Pumps are the enabled ATP-driven pump populations.
	Pumps []PumpConfig `json:"pumps" yaml:"pumps"`

	// Junctions configures gap-junction transport and voltage gating.
	Junctions JunctionConfig `json:"junctions" yaml:"junctions"`

	// Network is the optional gene/reaction network definition.
	Network NetworkConfig `json:"network" yaml:"network"`

	// Numerics holds step sizes, tolerances, and iteration budgets.
	Numerics NumericsConfig `json:"numerics" yaml:"numerics"`

	// Logging configures operational logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// WorldConfig describes cluster geometry and the physical environment.
type WorldConfig struct {
	// CellRadius is the cell body radius [m].
	CellRadius float64 `json:"cell_radius" yaml:"cell_radius"`

	// ClusterRadius is the circular tissue mask radius [m].
	ClusterRadius float64 `json:"cluster_radius" yaml:"cluster_radius"`

	// WorldSize is the side length of the square environment [m].
	WorldSize float64 `json:"world_size" yaml:"world_size"`

	// GridN is the environment grid resolution (GridN x GridN nodes).
	GridN int `json:"grid_n" yaml:"grid_n"`

	// Thickness is the extrusion depth of the 2D model [m].
	Thickness float64 `json:"thickness" yaml:"thickness"`

	// Temperature in Kelvin.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// MembraneCap is the specific membrane capacitance [F/m2].
	MembraneCap float64 `json:"membrane_cap" yaml:"membrane_cap"`

	// MembraneThickness is the membrane electrodiffusion distance [m].
	MembraneThickness float64 `json:"membrane_thickness" yaml:"membrane_thickness"`
}

// ChannelConfig enables one channel population on a set of membranes.
type ChannelConfig struct {
	// Kind selects the channel model: "NaV", "KV", "KLeak", "NaLeak", "ClLeak".
	Kind string `json:"kind" yaml:"kind"`

	// Strength scales the species' baseline membrane diffusion constant.
	Strength float64 `json:"strength" yaml:"strength"`

	// Target selects host membranes: "all", "boundary", or "interior".
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

// PumpConfig enables one pump population.
type PumpConfig struct {
	// Kind selects the pump model: "NaK-ATPase" or "Ca-ATPase".
	Kind string `json:"kind" yaml:"kind"`

	// RateMax is the maximal turnover rate [mol/(m2 s)].
	RateMax float64 `json:"rate_max" yaml:"rate_max"`

	// Target selects host membranes: "all", "boundary", or "interior".
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

// JunctionConfig configures gap-junction transport.
type JunctionConfig struct {
	// SurfaceFraction is the fraction of a membrane patch occupied by
	// junctional channels.
	SurfaceFraction float64 `json:"surface_fraction" yaml:"surface_fraction"`

	// VoltageGated enables transjunctional-voltage gating of conductance.
	VoltageGated bool `json:"voltage_gated" yaml:"voltage_gated"`

	// VThresh is the gating half-closure threshold [mV].
	VThresh float64 `json:"v_thresh" yaml:"v_thresh"`

	// VGrad is the gating sigmoid width [mV].
	VGrad float64 `json:"v_grad" yaml:"v_grad"`

	// MinOpen is the residual open fraction of a fully gated junction.
	MinOpen float64 `json:"min_open" yaml:"min_open"`
}

// ModulatorConfig is a Hill-type activator or inhibitor of a network rate.
// Signal names a network species, a tracked ion ("Na", "K", ...), or "Vmem".
type ModulatorConfig struct {
	Signal string  `json:"signal" yaml:"signal"`
	Km     float64 `json:"km" yaml:"km"`
	N      float64 `json:"n" yaml:"n"`
}

// SpeciesConfig defines one gene-network species per cell.
type SpeciesConfig struct {
	Name       string            `json:"name" yaml:"name"`
	Init       float64           `json:"init" yaml:"init"`
	GrowthMax  float64           `json:"growth_max" yaml:"growth_max"`
	Decay      float64           `json:"decay" yaml:"decay"`
	Activators []ModulatorConfig `json:"activators,omitempty" yaml:"activators,omitempty"`
	Inhibitors []ModulatorConfig `json:"inhibitors,omitempty" yaml:"inhibitors,omitempty"`
}

// TermConfig is one reactant or product of a mass-action reaction. Species
// may name a network species or a tracked ion, which couples the reaction
// into the electrophysiological state.
type TermConfig struct {
	Species string  `json:"species" yaml:"species"`
	Coeff   float64 `json:"coeff" yaml:"coeff"`
}

// ReactionConfig defines one mass-action reaction per cell.
type ReactionConfig struct {
	Name      string       `json:"name" yaml:"name"`
	Reactants []TermConfig `json:"reactants,omitempty" yaml:"reactants,omitempty"`
	Products  []TermConfig `json:"products,omitempty" yaml:"products,omitempty"`
	Rate      float64      `json:"rate" yaml:"rate"`
}

// NetworkConfig is the embedded reaction/gene-network definition.
type NetworkConfig struct {
	Species   []SpeciesConfig  `json:"species,omitempty" yaml:"species,omitempty"`
	Reactions []ReactionConfig `json:"reactions,omitempty" yaml:"reactions,omitempty"`
}

// NumericsConfig holds the time-integration controls.
type NumericsConfig struct {
	// Dt is the transient (sim) step size [s].
	Dt float64 `json:"dt" yaml:"dt"`

	// InitDt is the quasi-static (init) step size [s]; typically larger.
	InitDt float64 `json:"init_dt" yaml:"init_dt"`

	// Steps is the transient step count for the sim phase.
	Steps int `json:"steps" yaml:"steps"`

	// MaxInitSteps bounds the init phase when convergence stalls.
	MaxInitSteps int `json:"max_init_steps" yaml:"max_init_steps"`

	// Tolerance is the steady-state convergence tolerance on the summed
	// per-step change in membrane voltage and concentration.
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`

	// MinSteadySteps is how many consecutive below-tolerance steps the init
	// phase requires before declaring convergence.
	MinSteadySteps int `json:"min_steady_steps" yaml:"min_steady_steps"`

	// MaxFieldIters is the field solver's iterative refinement budget.
	MaxFieldIters int `json:"max_field_iters" yaml:"max_field_iters"`

	// MaxSubsteps caps reaction-network substepping per outer step.
	MaxSubsteps int `json:"max_substeps" yaml:"max_substeps"`

	// SampleEvery controls snapshot delivery to observers (every Nth step).
	SampleEvery int `json:"sample_every" yaml:"sample_every"`

	// RelaxOnFailure permits one field-solve retry with relaxed parameters
	// before a convergence failure is promoted to a fatal divergence.
	RelaxOnFailure bool `json:"relax_on_failure" yaml:"relax_on_failure"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level sets verbosity: "info" (default), "debug", or "trace".
	// "debug" enables per-step trace logging to <outdir>/steps.jsonl.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with physiologically sensible defaults: a small
// hexagonal cluster with leak channels and the NaK pump, no gene network.
func Default() *Config {
	return &Config{
		World: WorldConfig{
			CellRadius:        5.0e-6,
			ClusterRadius:     25.0e-6,
			WorldSize:         100.0e-6,
			GridN:             10,
			Thickness:         10.0e-6,
			Temperature:       310.0,
			MembraneCap:       0.05,
			MembraneThickness: 7.5e-9,
		},
		Ions: []string{"Na", "K", "Cl", "M", "P"},
		Channels: []ChannelConfig{
			{Kind: "KLeak", Strength: 1.0, Target: "all"},
			{Kind: "NaLeak", Strength: 1.0, Target: "all"},
			{Kind: "ClLeak", Strength: 1.0, Target: "all"},
		},
		Pumps: []PumpConfig{
			{Kind: "NaK-ATPase", RateMax: 1.0e-7, Target: "boundary"},
		},
		Junctions: JunctionConfig{
			SurfaceFraction: 1.0e-6,
			VoltageGated:    true,
			VThresh:         40.0,
			VGrad:           10.0,
			MinOpen:         0.01,
		},
		Numerics: NumericsConfig{
			Dt:             1.0e-4,
			InitDt:         1.0e-2,
			Steps:          1000,
			MaxInitSteps:   5000,
			Tolerance:      1.0e-6,
			MinSteadySteps: 10,
			MaxFieldIters:  50,
			MaxSubsteps:    100,
			SampleEvery:    10,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadFromFile loads configuration from a YAML file layered over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Load loads defaults, an optional YAML file, and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies BIOFLUX_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BIOFLUX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BIOFLUX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Numerics.Steps = n
		}
	}
	if v := os.Getenv("BIOFLUX_DT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Numerics.Dt = f
		}
	}
}

var validChannelKinds = map[string]bool{
	"NaV": true, "KV": true, "KLeak": true, "NaLeak": true, "ClLeak": true,
}

var validPumpKinds = map[string]bool{
	"NaK-ATPase": true, "Ca-ATPase": true,
}

var validTargets = map[string]bool{
	"": true, "all": true, "boundary": true, "interior": true,
}

// Validate checks that the configuration is internally consistent. Any
// error returned here is a configuration error: fatal to the run, detected
// before stepping begins.
func (c *Config) Validate() error {
	w := c.World
	if w.CellRadius <= 0 || w.ClusterRadius <= 0 || w.WorldSize <= 0 || w.Thickness <= 0 {
		return fmt.Errorf("world: all lengths must be positive")
	}
	if w.GridN < 2 {
		return fmt.Errorf("world: grid_n must be at least 2, got %d", w.GridN)
	}
	if w.Temperature <= 0 {
		return fmt.Errorf("world: temperature must be positive, got %f", w.Temperature)
	}
	if w.MembraneCap <= 0 {
		return fmt.Errorf("world: membrane_cap must be positive, got %f", w.MembraneCap)
	}
	if w.MembraneThickness <= 0 {
		return fmt.Errorf("world: membrane_thickness must be positive")
	}

	if len(c.Ions) == 0 {
		return fmt.Errorf("ions: at least one species must be enabled")
	}
	ionSet := map[string]bool{}
	for _, name := range c.Ions {
		if ionSet[name] {
			return fmt.Errorf("ions: %q enabled twice", name)
		}
		ionSet[name] = true
	}

	channelIon := map[string]string{
		"NaV": "Na", "KV": "K", "KLeak": "K", "NaLeak": "Na", "ClLeak": "Cl",
	}
	for i, ch := range c.Channels {
		if !validChannelKinds[ch.Kind] {
			return fmt.Errorf("channels[%d]: unknown kind %q", i, ch.Kind)
		}
		if ch.Strength < 0 {
			return fmt.Errorf("channels[%d]: strength must be non-negative, got %f", i, ch.Strength)
		}
		if !validTargets[ch.Target] {
			return fmt.Errorf("channels[%d]: invalid target %q (valid: all, boundary, interior)", i, ch.Target)
		}
		if need := channelIon[ch.Kind]; !ionSet[need] {
			return fmt.Errorf("channels[%d]: kind %q requires ion %q to be enabled", i, ch.Kind, need)
		}
	}
	pumpIons := map[string][]string{
		"NaK-ATPase": {"Na", "K"},
		"Ca-ATPase":  {"Ca"},
	}
	for i, p := range c.Pumps {
		if !validPumpKinds[p.Kind] {
			return fmt.Errorf("pumps[%d]: unknown kind %q", i, p.Kind)
		}
		if p.RateMax < 0 {
			return fmt.Errorf("pumps[%d]: rate_max must be non-negative, got %f", i, p.RateMax)
		}
		if !validTargets[p.Target] {
			return fmt.Errorf("pumps[%d]: invalid target %q", i, p.Target)
		}
		for _, need := range pumpIons[p.Kind] {
			if !ionSet[need] {
				return fmt.Errorf("pumps[%d]: kind %q requires ion %q to be enabled", i, p.Kind, need)
			}
		}
	}

	j := c.Junctions
	if j.SurfaceFraction < 0 {
		return fmt.Errorf("junctions: surface_fraction must be non-negative")
	}
	if j.MinOpen < 0 || j.MinOpen > 1 {
		return fmt.Errorf("junctions: min_open must be in [0,1], got %f", j.MinOpen)
	}
	if j.VoltageGated && j.VGrad <= 0 {
		return fmt.Errorf("junctions: v_grad must be positive when voltage gating is enabled")
	}

	if err := c.validateNetwork(ionSet); err != nil {
		return err
	}

	n := c.Numerics
	if n.Dt <= 0 || n.InitDt <= 0 {
		return fmt.Errorf("numerics: step sizes must be positive")
	}
	if n.Steps <= 0 {
		return fmt.Errorf("numerics: steps must be positive, got %d", n.Steps)
	}
	if n.MaxInitSteps <= 0 {
		return fmt.Errorf("numerics: max_init_steps must be positive, got %d", n.MaxInitSteps)
	}
	if n.Tolerance <= 0 {
		return fmt.Errorf("numerics: tolerance must be positive, got %g", n.Tolerance)
	}
	if n.MinSteadySteps <= 0 {
		return fmt.Errorf("numerics: min_steady_steps must be positive")
	}
	if n.MaxFieldIters <= 0 {
		return fmt.Errorf("numerics: max_field_iters must be positive")
	}
	if n.MaxSubsteps <= 0 {
		return fmt.Errorf("numerics: max_substeps must be positive")
	}
	if n.SampleEvery <= 0 {
		return fmt.Errorf("numerics: sample_every must be positive")
	}

	validLevels := map[string]bool{"": true, "info": true, "debug": true, "trace": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging: invalid level %q (valid: info, debug, trace)", c.Logging.Level)
	}

	return nil
}

// validateNetwork checks the reaction-network definition against the
// enabled ion set and its own species list.
func (c *Config) validateNetwork(ionSet map[string]bool) error {
	netSet := map[string]bool{}
	for i, s := range c.Network.Species {
		if s.Name == "" {
			return fmt.Errorf("network.species[%d]: name is required", i)
		}
		if netSet[s.Name] {
			return fmt.Errorf("network.species[%d]: %q defined twice", i, s.Name)
		}
		if ionSet[s.Name] {
			return fmt.Errorf("network.species[%d]: %q collides with an enabled ion", i, s.Name)
		}
		netSet[s.Name] = true
		if s.Init < 0 {
			return fmt.Errorf("network.species[%d]: init must be non-negative", i)
		}
		if s.Decay < 0 || s.GrowthMax < 0 {
			return fmt.Errorf("network.species[%d]: rates must be non-negative", i)
		}
	}
	signalOK := func(name string) bool {
		return name == "Vmem" || netSet[name] || ionSet[name]
	}
	for i, s := range c.Network.Species {
		mods := append(append([]ModulatorConfig{}, s.Activators...), s.Inhibitors...)
		for _, m := range mods {
			if !signalOK(m.Signal) {
				return fmt.Errorf("network.species[%d]: unknown signal %q", i, m.Signal)
			}
			if m.Km <= 0 || m.N <= 0 {
				return fmt.Errorf("network.species[%d]: modulator %q needs positive km and n", i, m.Signal)
			}
		}
	}
	for i, r := range c.Network.Reactions {
		if r.Rate < 0 {
			return fmt.Errorf("network.reactions[%d]: rate must be non-negative", i)
		}
		terms := append(append([]TermConfig{}, r.Reactants...), r.Products...)
		for _, term := range terms {
			if !netSet[term.Species] && !ionSet[term.Species] {
				return fmt.Errorf("network.reactions[%d]: unknown species %q", i, term.Species)
			}
			if term.Coeff <= 0 {
				return fmt.Errorf("network.reactions[%d]: coefficients must be positive", i)
			}
		}
	}
	return nil
}

// Fingerprint returns a stable hex digest of the configuration, used to
// detect config drift between phases of a run.
func (c *Config) Fingerprint() string {
	data, err := json.Marshal(c)
	if err != nil {
		// Config is plain data; marshal cannot fail in practice.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
