// Package log provides structured logging via zerolog: a global Logger
// initialized once with Init, plus scoped child loggers (WithComponent,
// WithExecutorID, WithJobID, WithStageID) for attaching identifiers to
// every line a component emits.
package log
