// Package logx configures kernelq's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Hot level/sink swaps via Service.Apply (config reload)
package logx
