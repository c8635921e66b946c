// Package logx configures dirigent's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional event-bus sink (min-level + rate limiting) so observers can
//     consume WARN+ records without touching process stdio
package logx
