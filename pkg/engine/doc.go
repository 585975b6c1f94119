// Package engine orchestrates one expansion pass over the program under
// build.
//
// # Pass lifecycle
//
// A Pipeline is created per build pass from the host program view and the
// ordered extension declarations discovery produced. Begin runs the compile
// phase once: duplicate registrations short-circuit the pass before any
// compilation, an unsupported host runtime short-circuits it with one
// diagnostic per expander, and a compile or load failure enters the sticky
// degraded state in which every expander receives exactly one synthesized
// failure artifact and no invocation ever happens. On success Begin builds
// the expander handle set: one resolved, shape-checked entry method per
// unique registration.
//
// Process is then called once per target declaration, in declaration order.
// For each target the engine resolves the target's mirror type (one
// resolution-failure diagnostic per pending expander if absent) and invokes
// every handle in discovery order. A panic from the untrusted entry method
// is caught at the call site, reported, and recorded as a commented
// artifact so the failure stays visible in build output without aborting
// the pass. Normal returns map to pass-through diagnostics and, when
// requested, one provenance-prefixed artifact per (expander, target) pair.
//
// The pass is strictly sequential; cancellation is cooperative and checked
// between target declarations only. Any fault escaping the orchestration
// itself is caught at the pipeline boundary, reported once per known
// expander, and recorded as a single pass-wide artifact.
package engine
