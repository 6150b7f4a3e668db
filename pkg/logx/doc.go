// Package logx configures pulse's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - A zero-value Logger that is safe to pass around as a no-op
package logx
