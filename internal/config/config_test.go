package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"no ions", func(c *Config) { c.Ions = nil }},
		{"duplicate ion", func(c *Config) { c.Ions = append(c.Ions, "Na") }},
		{"unknown channel kind", func(c *Config) { c.Channels[0].Kind = "CaV9" }},
		{"negative strength", func(c *Config) { c.Channels[0].Strength = -1 }},
		{"bad target", func(c *Config) { c.Channels[0].Target = "everywhere" }},
		{"channel without ion", func(c *Config) { c.Ions = []string{"Na", "Cl", "M", "P"} }},
		{"unknown pump", func(c *Config) { c.Pumps[0].Kind = "Mg-ATPase" }},
		{"pump without ion", func(c *Config) {
			c.Ions = []string{"Na", "Cl", "M", "P"}
			c.Channels = nil
		}},
		{"min_open out of range", func(c *Config) { c.Junctions.MinOpen = 1.5 }},
		{"gated junction without width", func(c *Config) { c.Junctions.VGrad = 0 }},
		{"zero dt", func(c *Config) { c.Numerics.Dt = 0 }},
		{"zero steps", func(c *Config) { c.Numerics.Steps = 0 }},
		{"zero tolerance", func(c *Config) { c.Numerics.Tolerance = 0 }},
		{"zero field budget", func(c *Config) { c.Numerics.MaxFieldIters = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"cold world", func(c *Config) { c.World.Temperature = 0 }},
		{"network species shadows ion", func(c *Config) {
			c.Network.Species = []SpeciesConfig{{Name: "Na", GrowthMax: 1, Decay: 1}}
		}},
		{"network unknown signal", func(c *Config) {
			c.Network.Species = []SpeciesConfig{{
				Name: "X", GrowthMax: 1, Decay: 1,
				Activators: []ModulatorConfig{{Signal: "Y", Km: 1, N: 1}},
			}}
		}},
		{"reaction unknown species", func(c *Config) {
			c.Network.Reactions = []ReactionConfig{{
				Name: "r", Rate: 1,
				Reactants: []TermConfig{{Species: "ghost", Coeff: 1}},
			}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mod(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate should have failed")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.yaml")
	content := `
ions: ["Na", "K", "Cl", "M", "P"]
numerics:
  dt: 0.0002
  steps: 42
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Numerics.Dt != 0.0002 {
		t.Errorf("dt = %g, want 0.0002", cfg.Numerics.Dt)
	}
	if cfg.Numerics.Steps != 42 {
		t.Errorf("steps = %d, want 42", cfg.Numerics.Steps)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched sections keep defaults.
	if cfg.World.GridN != Default().World.GridN {
		t.Errorf("grid_n should keep its default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFromFile should fail for a missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BIOFLUX_STEPS", "7")
	t.Setenv("BIOFLUX_LOG_LEVEL", "trace")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Numerics.Steps != 7 {
		t.Errorf("steps = %d, want 7 from env", cfg.Numerics.Steps)
	}
	if cfg.Logging.Level != "trace" {
		t.Errorf("level = %q, want trace from env", cfg.Logging.Level)
	}
}

func TestFingerprintStability(t *testing.T) {
	a := Default()
	b := Default()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical configs must share a fingerprint")
	}
	b.Numerics.Dt *= 2
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("differing configs must not share a fingerprint")
	}
}
