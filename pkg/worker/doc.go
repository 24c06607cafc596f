/*
Package worker implements the executor daemon: the process that registers
with a scheduler, advertises task slots, and runs shuffle-write tasks via
pkg/executorrt.

# Architecture

	┌────────────────────── EXECUTOR PROCESS ───────────────────────┐
	│                                                                 │
	│   heartbeatLoop ──── Heartbeat RPC ────▶ scheduler              │
	│   pollLoop      ──── PollWork RPC  ────▶ scheduler              │
	│                         │                                      │
	│                         ▼                                      │
	│                  executorrt.Runtime.ExecuteShuffleWrite          │
	│                         │                                      │
	│                         ▼                                      │
	│                  UpdateTaskStatus RPC ──▶ scheduler              │
	└─────────────────────────────────────────────────────────────────┘

Registration happens once at startup (optionally requesting push-mode
reservation); after that the daemon runs two independent loops — a
heartbeat ticker and, in pull mode, a poll ticker that also reports
finished task statuses. In push mode the daemon instead exposes
pkg/rpc.ExecutorServer so the scheduler can call LaunchTask directly.
*/
package worker
