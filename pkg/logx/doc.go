// Package logx configures pubmatrix's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Leveled adapters for libraries that want their own logger interface
package logx
