// Package logging builds the slog loggers used by actlog.
//
// It owns the console and JSON handlers, the tee handler that copies records
// to several sinks, and the standard field keys (component, event_type,
// error_hint, impact, actor_id, request_id). Warnings and errors should go
// through WarnWithContext and ErrorWithContext so every line carries an event
// type and a hint for the operator.
package logging
