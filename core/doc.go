// Package core provides the foundational domain types, interfaces and stream
// events used by Parley. It defines the core abstractions for:
//
//   - Rooms, agent definitions and collaboration modes
//   - Sessions, turns and role-attributed messages
//   - Usage events, wallet debits and budget audits (the billing trail)
//   - StagedTurn, the atomic commit unit tying conversation and billing together
//   - TurnEvent, the ordered event stream mirrored by live delivery
//   - Pluggable stores for sessions, turns and wallets
//
// The package intentionally keeps implementation concerns (persistence,
// budgeting, orchestration, concrete model adapters) out of scope, exposing
// small interfaces so higher layers remain decoupled and testable.
package core
