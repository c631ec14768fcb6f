// Package logging centralizes slog construction and the structured field
// conventions used across sonomap.
//
// Loggers are built from config-driven options (level, format, output
// paths) and components derive child loggers via NewComponentLogger so
// every record carries a component attribute. Warnings and errors carry
// event_type, error_hint, and impact fields so operators can act on them
// without reading source.
package logging
