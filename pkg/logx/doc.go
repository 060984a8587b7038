// Package logx configures ccbell's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Hook invocations quiet on stdout (console goes to stderr there)
package logx
