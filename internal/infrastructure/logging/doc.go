// Package logging provides structured logging for all Waterline binaries.
//
// It wraps log/slog with configuration-driven setup: output format (JSON or
// text), level filtering, and default service/version attributes so log
// aggregation can distinguish the agent, bridge, and core processes.
package logging
