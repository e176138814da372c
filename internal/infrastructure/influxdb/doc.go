// Package influxdb records relaysync telemetry in InfluxDB v2.
//
// Two measurements are written:
//   - transport_delivery: one point per delivery attempt, tagged by device
//     and transport (local or cloud), with success and latency_ms fields
//   - actuator_position: estimated position and target whenever an
//     actuator's state changes
//
// Telemetry is optional. When influxdb.enabled is false Connect returns
// ErrDisabled and the bridge runs without it.
package influxdb
