// Package paddock runs batches of daily-step agricultural simulations. A
// definition file describes simulations, experiments and their factors; the
// Engine expands it into independent jobs, runs them on a worker pool and
// stores every job's output in a single SQLite datastore.
//
// # Pipeline
//
// Each run has three phases:
//
//  1. Expand: definitions are walked, overrides applied and experiments
//     enumerated into one job per factor-level combination.
//
//  2. Run: every job instantiates its own model graph, resolves links
//     between nodes, connects them to a private event bus and drives the
//     clock from start to end date. Workers run jobs concurrently; a single
//     goroutine commits each finished job's tables.
//
//  3. Post-process: Query nodes run SQL against the datastore and store the
//     results as new tables.
//
// # Usage
//
//	e, err := paddock.New("results.db", paddock.WithConcurrency(4))
//	if err != nil { ... }
//	defer e.Close()
//
//	def, err := paddock.LoadDefinition("wheat.yaml")
//	plan, err := e.Expand(nil, def)
//	summary, err := e.Run(ctx, plan)
//	if summary.Failed() { ... }
//
// # Scripts
//
// Manager nodes carry Risor handlers keyed by topic. Scripts can import the
// embedded library under scripts/lib, or a directory given with
// [WithScriptsDir]. See the internal/models package for the globals a
// handler receives.
package paddock
