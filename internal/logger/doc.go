// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger writing console-encoded entries to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// The store, the worker registry and the command processor all accept a
// context and extract the logger from it, so every worker logs with its
// group id and handle attached.
package logger
