package engine

import (
	"context"
	"fmt"
)

// Run executes the engine's phase to its terminal status. The init phase
// steps until the state change stays below tolerance for the configured
// number of consecutive steps (Converged) or the step budget runs out
// (a convergence failure). The sim phase runs the configured step count
// (Completed). Cancellation is honored between steps, never mid-step; a
// cancelled run keeps its last committed state and stays resumable.
func (e *Engine) Run(ctx context.Context) error {
	if e.status.Terminal() {
		return e.runErr
	}
	e.status = StatusStepping

	switch e.phase {
	case PhaseInit:
		return e.runInit(ctx)
	case PhaseSim:
		return e.runSim(ctx)
	}
	return fmt.Errorf("engine: unknown phase %q", e.phase)
}

func (e *Engine) runInit(ctx context.Context) error {
	num := e.cfg.Numerics
	e.log.Info("settling cluster to steady state",
		"dt", e.dt, "tolerance", num.Tolerance, "max_steps", num.MaxInitSteps)

	for e.state.Step < num.MaxInitSteps {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep, err := e.step()
		if err != nil {
			return err
		}
		e.emit(rep, num.SampleEvery, false)

		if rep.DeltaNorm < num.Tolerance {
			e.steady++
		} else {
			e.steady = 0
		}
		if e.steady >= num.MinSteadySteps {
			e.status = StatusConverged
			// The converged step is reported even off the sampling stride.
			if num.SampleEvery > 1 && rep.Step%num.SampleEvery != 0 {
				e.emit(rep, num.SampleEvery, true)
			}
			e.log.Info("steady state reached",
				"steps", rep.Step, "vm_mean_mv", rep.VmMean*1e3)
			return nil
		}
	}

	return e.diverged("init", e.state.Step, ErrConvergenceFailure,
		fmt.Errorf("no steady state within %d steps", num.MaxInitSteps))
}

func (e *Engine) runSim(ctx context.Context) error {
	num := e.cfg.Numerics
	e.log.Info("running transient simulation",
		"dt", e.dt, "steps", num.Steps)

	for e.state.Step < num.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep, err := e.step()
		if err != nil {
			return err
		}
		e.emit(rep, num.SampleEvery, rep.Step == num.Steps)
	}

	e.status = StatusCompleted
	e.log.Info("simulation complete",
		"steps", e.state.Step, "time", e.state.Time,
		"underflows", e.state.Underflows)
	return nil
}

// emit delivers a sampled report to the observer and the trace log. The
// phase's final report is delivered regardless of the sampling stride.
func (e *Engine) emit(rep Report, sampleEvery int, final bool) {
	if sampleEvery <= 0 {
		sampleEvery = 1
	}
	if !final && rep.Step%sampleEvery != 0 {
		return
	}
	if e.observer != nil {
		e.observer(rep)
	}
	e.trace.Log(map[string]any{
		"step":       rep.Step,
		"phase":      string(rep.Phase),
		"time":       rep.Time,
		"vm_mean":    rep.VmMean,
		"vm_min":     rep.VmMin,
		"vm_max":     rep.VmMax,
		"delta":      rep.DeltaNorm,
		"underflows": rep.Underflows,
	})
}
