// Package influxdb records device telemetry for Helm Core.
//
// Every inbound device message and reconciled channel state change can be
// written as a time-series point. Writes are batched and non-blocking;
// telemetry is strictly best-effort and never affects command delivery.
package influxdb
