// Package parley is a multi-agent conversation engine. Rooms group agents
// under a collaboration mode (manual tagging, roundtable, or a manager-led
// orchestrator), the executor runs each user turn as one ordered event
// sequence, the budgeter bounds prompt context against the model window, and
// every model call is metered into an atomic usage and billing trail.
//
// The top-level packages compose freely: bring your own core.Store and
// model.Resolver, or use the bundled SQLite store and provider adapters via
// cmd/parley.
package parley

// Version is the semantic version of the module, overridable at build time
// via ldflags.
var Version = "0.1.0"
