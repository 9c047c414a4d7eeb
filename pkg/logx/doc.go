// Package logx configures courtbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Mailbox/vault secrets redacted at the call site (logx.Secret)
package logx
