// Package core turns a declarative experiment tree into a correctly
// scheduled runtime. It is the heart of mergen: executors wrap entities,
// frames carry the dynamic scope of each attempt, and the subprocess and
// worker drivers coordinate child lifecycles with cgroup build/teardown and
// collector start/stop.
//
// # Executor composition
//
// The runner layers executors around each entity, outermost first:
//
//	Controlling
//	└── Replicating(plan)
//	    └── Replicating(suite)
//	        └── [ Collecting(suite) if suite.concurrency ] -> Concurrent(suite)
//	            └── Replicating(case)
//	                └── Iterating(case)
//	                    └── [ Collecting(case) if !suite.concurrency ] -> Parallel(case)
//	                        └── Process(command)   (one per command)
//
// Every executor runs pre-hooks, its body, then post-hooks; fan-out happens
// only inside the body, so hook ordering is never weakened by concurrency.
//
// Telemetry attaches to the coarsest synchronized region: a concurrent suite
// is one experiment and collects at suite level, otherwise each case is an
// independent experiment and collects at case level. Exactly one collector
// set is active per experiment.
//
// # Frames
//
// Each executor synthesizes a frame before invoking its children. The frame
// chain from a leaf to the root resolves identifiers (prefix plus zero-padded
// sequence number), iteration bindings, and the output directory: frames
// marked exclude-from-path contribute to placeholder lookups but not to the
// filesystem layout.
//
// # Placeholders
//
// Command templates use {m:<ns>:<key>} tokens resolved at materialization
// time: entity names, nearest-ancestor params, nearest iteration bindings,
// and runtime context (run_path, pid, ppid, pgid). An unresolved placeholder
// is fatal.
//
// # Drivers
//
// Process drives one subprocess lifecycle: shell or tokenized-pipeline
// spawning, output piping or capture, a soft run_time timer that signals
// once, and a hard timeout that kills. Worker runs cooperative background
// functions for periodic collectors, wound down via a join flag.
package core
