// Package scheduler owns the agent's task table and the tick that drives it.
//
// The scheduler is responsible for:
//   - parsing compact durations ("30s", "1m", "2h", "1d")
//   - registering named tasks with a delay and an interval
//   - deciding, once per tick, which tasks are due
//   - acquiring the per-task run gate and handing due tasks to the executor
//
// Execution itself (failure isolation, timeouts, logging) lives in
// internal/task/engine.
package scheduler
