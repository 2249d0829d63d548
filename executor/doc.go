// Package executor coordinates one full turn: budgeting, dispatch,
// agent/orchestrator execution, usage staging and the single atomic commit.
//
// A turn is a single generator of ordered TurnEvents. The synchronous
// Execute API drains the generator to completion and returns the committed
// result; the streaming surface forwards the same events live. Both paths
// share one execution and one commit, so persistence parity holds by
// construction rather than by duplicated code.
//
// Side-effect discipline: validation, budget and balance rejections
// short-circuit before any model call and before any write staging. All
// conversational rows, usage events, wallet debits and the budget audit are
// staged in memory and committed in one transaction at the end of the turn.
// A failure of any single agent is recorded as a structured error entry and
// the turn commits as partial; a commit failure persists nothing.
package executor
