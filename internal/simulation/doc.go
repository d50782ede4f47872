// Package simulation provides a scenario harness for validating emergent
// dynamics of the full engine stack: geometry, channels, pumps, junctions,
// field solve, reaction network, and the run store together, no mocks.
//
// Scenarios are Go builders that tweak a validated config, optionally
// perturb the initial state, and run the real init/sim phase sequence with
// results persisted to an isolated per-test SQLite store. Tests assert
// physical properties of the outcome (conservation, polarization, gating
// bounds, divergence handling) rather than exact trajectories.
package simulation
