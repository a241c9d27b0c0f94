// Package tracing records kernel runs, address-space loads and thread
// lifetimes as OpenTelemetry spans. Until Init is called spans are no-ops, so
// instrumented code pays nothing when tracing is off.
package tracing
