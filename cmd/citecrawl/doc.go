// Package main hosts the citecrawl pipeline entrypoint.
//
// Architecture overview:
//   - Stages: the pipeline runs as four subcommands. `titles` resolves
//     document titles for the seed EIDs over plain HTTP. `miscited`,
//     `citing`, and `references` drive a headless browser to export
//     result lists, each stage consuming the previous stage's
//     downloads tree as its work-unit source.
//   - Ledger: every browser stage records per-unit outcomes as marker
//     files (success.txt / empty.txt) inside the unit's directory and
//     rewrites a status.csv snapshot after each chunk. A unit whose
//     directory exists without a marker failed and is retried on the
//     next run; a missing directory means the unit was never started.
//   - Scheduler: units are processed in fixed-size chunks through a
//     bounded worker group. A failing unit only fails itself; the
//     chunk barrier guarantees the snapshot reflects every unit of the
//     chunk before the next one starts.
//   - Session: one shared Chrome instance carries the authenticated
//     session; workers open tabs against it. When the remote side
//     rejects the credentials a worker requests a refresh, which is
//     single-flight and cooldown-limited so a burst of rejections
//     causes one login, not five.
//   - Configuration & plumbing: Viper populates config from a file and
//     CITECRAWL_* env vars; zap provides structured logging; the
//     optional status listener exposes /healthz, /status, and
//     Prometheus /metrics during long runs.
//
// Quick start:
//   - citecrawl login                  persists session cookies
//   - citecrawl titles                 resolves seed titles
//   - citecrawl miscited               exports candidate result lists
//   - citecrawl citing                 exports citing-document lists
//   - citecrawl references             exports reference lists
//
// All commands accept -config config.yaml; every knob also has a
// CITECRAWL_* env override. Re-running any stage skips finished units.
package main
