// Package budget bounds prompt size before any model call is issued.
//
// Given a session's committed history and the candidate user message, the
// Budgeter reserves output and overhead headroom inside the model's context
// window, then applies a summarize -> prune -> reject cascade against the
// remaining input budget:
//
//   - summarize collapses older resolved turns into one synthetic system
//     digest block, never touching active system instructions, the latest
//     user message, unresolved turns or pinned anchors
//   - prune drops the oldest low-signal messages while retaining everything
//     the digest references and the most recent raw turns
//   - reject refuses the turn with a distinct budget-exceeded condition so
//     the caller short-circuits before invoking any model
//
// Token estimation uses a cheap character heuristic by default; a failing
// estimator degrades to the heuristic rather than crashing the pipeline.
// Every invocation yields a BudgetAudit of before/after estimates and the
// stages that fired, and re-running the estimator on the same bounded
// message set reproduces the same decision.
package budget
