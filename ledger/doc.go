// Package ledger converts model call token usage into priced, staged usage
// records and wallet debits.
//
// The stager is a pure function of (tokens, price multiplier, pricing
// version) -> credits, so billing is reproducible from the persisted usage
// event alone. Staged records are uncommitted: the turn executor folds them
// into the StagedTurn and the store commits them atomically with the
// conversational record, guaranteeing exactly one usage event and one wallet
// debit per billed model call.
//
// The Policy cell holds the process-wide, admin-togglable enforcement flag
// and the active pricing catalog behind read/replace semantics, replacing ad
// hoc globals.
package ledger
