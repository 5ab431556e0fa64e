// Package logx configures guildwatch's structured logging.
//
// A small value-type wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller, colour only on a TTY)
//   - File output JSON-structured
//   - An optional alert sink that forwards WARN+ records to an operator chat (rate limited)
package logx
