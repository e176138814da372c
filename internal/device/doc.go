// Package device defines the devices relaysync bridges and persists the
// last-known position of each actuator.
//
// # Architecture
//
//	┌───────────────────────────┐      ┌───────────────────────────┐
//	│   Inventory (config.yaml) │─────▶│  Device + ValidateDevice  │
//	└───────────────────────────┘      └─────────────┬─────────────┘
//	                                                 │
//	                                                 ▼
//	                                   ┌───────────────────────────┐
//	                                   │       orchestrator        │
//	                                   └─────────────┬─────────────┘
//	                                                 │ seed / save
//	                                                 ▼
//	                                   ┌───────────────────────────┐
//	                                   │   PositionRepository      │
//	                                   │  (actuator_positions)     │
//	                                   └───────────────────────────┘
//
// # Key Types
//
//   - Device: one physical unit; kind, credential, operation time
//   - Kind: switch, multi_switch or actuator
//   - Sensor / Report: how an actuator's own readings are interpreted
//   - Position: persisted estimated/target position
//
// Only positions are persisted. Motion timers and tokens are transient and
// every actuator starts idle after a restart.
package device
