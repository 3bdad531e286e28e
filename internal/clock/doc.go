/*
Clock drives registered processors through discrete time steps.

# Module
  - config: immutable run configuration
  - state: immutable per-processor snapshots with rolling statistics
  - base: registry, scope lifecycle, query API
  - engine: per-tick pipeline (timeout, retry, fan-out)
  - backtest: deterministic stepping against simulated time
  - realtime: wall-clock pacing with drift skipping

# Source
  - processor implementations via the Processor contract

# Produce
  - per-processor state, stats and performance snapshots
*/
package clock
