// Package model defines the provider-agnostic abstractions for invoking
// language models inside Parley.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Account token usage (fresh input, cached input, output) per call so the
//     ledger can price every invocation
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (budgeter, dispatcher, orchestrator) remain
// decoupled from vendor SDKs. The Registry maps configured model aliases to
// concrete providers.
package model
