// Package logx is feedgrid's structured logger, a thin layer over zerolog.
//
// Logger values are cheap to copy and safe to use when zero. Loggers derived
// from a Service follow every Service.Apply, so a config reload changes the
// level and sinks of loggers already handed out to components.
//
// Console output uses a short timestamp and a file:line caller; the optional
// file sink is JSON.
package logx
