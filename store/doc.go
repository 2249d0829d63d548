// Package store provides the persistence backends for sessions, rooms,
// turns and wallets. Memory is the zero-setup in-process backend used in
// tests and examples; SQLite is the durable single-file backend used by the
// server. Both enforce the same commit contract: a turn, its messages, its
// usage events, its wallet debits and its budget audit persist in one atomic
// unit, and a duplicate (session, turn index) pair fails the whole commit
// with a conflict.
package store
