// Package logging provides structured logging for Helm Core.
//
// It wraps log/slog with configuration-driven level, format, and output
// selection, plus default service attributes on every record.
package logging
