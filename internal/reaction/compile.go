package reaction

import (
	"fmt"

	"github.com/tissueworks/bioflux/internal/config"
)

// Compile resolves a validated network definition against the enabled ion
// set. Ion names map to the leading entries of the concentration vector in
// the given order; network species follow in definition order.
func Compile(cfg config.NetworkConfig, ions []string) (*Network, error) {
	index := make(map[string]int, len(ions)+len(cfg.Species))
	for i, name := range ions {
		index[name] = i
	}
	for i, sp := range cfg.Species {
		if _, dup := index[sp.Name]; dup {
			return nil, fmt.Errorf("reaction: species %q collides with an existing name", sp.Name)
		}
		index[sp.Name] = len(ions) + i
	}

	n := &Network{VecLen: len(ions) + len(cfg.Species)}

	resolveMod := func(mc config.ModulatorConfig) (Modulator, error) {
		if mc.Signal == "Vmem" {
			return Modulator{Kind: SignalVmem, Km: mc.Km, N: mc.N}, nil
		}
		idx, ok := index[mc.Signal]
		if !ok {
			return Modulator{}, fmt.Errorf("reaction: unknown signal %q", mc.Signal)
		}
		return Modulator{Kind: SignalConc, Index: idx, Km: mc.Km, N: mc.N}, nil
	}

	for _, sc := range cfg.Species {
		sp := Species{
			Name:      sc.Name,
			Index:     index[sc.Name],
			GrowthMax: sc.GrowthMax,
			Decay:     sc.Decay,
		}
		for _, mc := range sc.Activators {
			m, err := resolveMod(mc)
			if err != nil {
				return nil, fmt.Errorf("species %q: %w", sc.Name, err)
			}
			sp.Activators = append(sp.Activators, m)
		}
		for _, mc := range sc.Inhibitors {
			m, err := resolveMod(mc)
			if err != nil {
				return nil, fmt.Errorf("species %q: %w", sc.Name, err)
			}
			sp.Inhibitors = append(sp.Inhibitors, m)
		}
		n.Species = append(n.Species, sp)
	}

	resolveTerms := func(tcs []config.TermConfig, rx string) ([]Term, error) {
		var terms []Term
		for _, tc := range tcs {
			idx, ok := index[tc.Species]
			if !ok {
				return nil, fmt.Errorf("reaction %q: unknown species %q", rx, tc.Species)
			}
			terms = append(terms, Term{Index: idx, Coeff: tc.Coeff})
		}
		return terms, nil
	}

	for _, rc := range cfg.Reactions {
		reactants, err := resolveTerms(rc.Reactants, rc.Name)
		if err != nil {
			return nil, err
		}
		products, err := resolveTerms(rc.Products, rc.Name)
		if err != nil {
			return nil, err
		}
		n.Reactions = append(n.Reactions, Reaction{
			Name:      rc.Name,
			Rate:      rc.Rate,
			Reactants: reactants,
			Products:  products,
		})
	}
	return n, nil
}

// InitConcs returns the initial network-species concentrations in vector
// order (the tail of a cell's concentration vector).
func InitConcs(cfg config.NetworkConfig) []float64 {
	out := make([]float64, len(cfg.Species))
	for i, sp := range cfg.Species {
		out[i] = sp.Init
	}
	return out
}
