// Package logx configures remindd's structured logging.
//
// Components log through logx.Logger, a thin wrapper over zerolog:
//   - console output is short and human readable (colour only on a terminal)
//   - file output is one JSON object per line
//   - Service.Apply swaps sinks and level at runtime without replacing loggers
package logx
