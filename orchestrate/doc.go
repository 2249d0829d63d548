// Package orchestrate implements the manager-routed specialist consultation
// loop: ROUTE -> RUN_ROUND -> EVALUATE -> (ROUTE | SYNTHESIZE) -> DONE.
//
// A manager model selects 1-3 specialists per round (or the whole roster for
// an explicit everyone-style request), each optionally with a tailored
// instruction. After each round the manager answers a binary continue
// question. The loop exits on whichever comes first: manager says stop,
// round count reaches the depth cap, or total specialist invocations reach
// the invocation cap. The caps are enforced independently of manager
// behavior so a misbehaving manager cannot cause runaway cost.
//
// Manager output is untrusted: routing and evaluation decisions are parsed
// with strict schemas and every call site carries an explicit deterministic
// fallback (first roster agent / stop) rather than failing the turn.
//
// The engine owns selection, ordering and caps; the caller supplies
// callbacks that perform the actual manager and specialist model calls so
// billing, event emission and persistence stay in the turn executor.
package orchestrate
