// Package telemetry feeds property values and events into a time-series
// store (InfluxDB in production).
//
// The sink attaches to every Thing as a lossy subscriber, so a slow or
// unreachable database never delays a property write.
package telemetry
