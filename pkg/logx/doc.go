// Package logx is the agent's structured logging layer on top of zerolog.
//
// A Logger is a small value type carrying fixed fields. Loggers derived from
// a Service follow its live configuration: a console writer, an optional
// JSON file, and an alert sink that forwards important records to an
// AlertSender (the Telegram adapter in production).
package logx
