// Package dispatch resolves which agents run for a turn, in what order.
//
// The dispatcher is a state-free routing function from (mode, user input,
// room roster) to a DispatchPlan:
//
//   - manual: @-mentioned agents in mention order; two or more valid tags
//     escalate the plan to roundtable semantics for this turn only
//   - roundtable: the full roster in position order, a mentioned agent
//     promoted to the front
//   - orchestrator: precondition checks, then hand-off to the orchestrate
//     package
//
// Plan execution itself lives in the executor; on a single agent's failure
// the executor records a structured error entry and continues, it never
// aborts the whole turn.
package dispatch
