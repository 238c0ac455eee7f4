// Package telemetry wires the observability stack for lizzy.
//
// It centralises OpenTelemetry tracer provider setup against an OTLP
// collector and owns the Prometheus metrics that describe the HTTP facade
// and the senza invocations behind it.
package telemetry
