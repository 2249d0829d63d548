package orchestrate

import (
	"strings"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/internal/util"
)

// RouteTarget selects one specialist for a round, optionally with a task
// instruction tailored by the manager.
type RouteTarget struct {
	Key         string `json:"key"`
	Instruction string `json:"instruction,omitempty"`
}

// RouteDecision is the manager's routing output for one round.
type RouteDecision struct {
	Agents   []RouteTarget `json:"agents"`
	Everyone bool          `json:"everyone,omitempty"`
	// Fallback marks a decision substituted for unparsable manager output.
	Fallback bool `json:"-"`
}

// maxAgentsPerRound bounds a single routing decision unless the manager
// explicitly requests everyone.
const maxAgentsPerRound = 3

// ParseRouteDecision interprets raw manager output as a routing decision.
// The payload is untrusted: surrounding prose and code fences are tolerated,
// unknown agent keys are dropped, and the selection is clamped to three
// unless the decision asks for everyone. Anything unusable falls back
// deterministically to the first roster agent; the turn never fails on a
// malformed manager reply.
func ParseRouteDecision(raw string, roster []core.AgentDef) RouteDecision {
	fallback := RouteDecision{
		Agents:   []RouteTarget{{Key: roster[0].Key}},
		Fallback: true,
	}

	var decision RouteDecision
	if !util.DecodeInto(raw, &decision) {
		return fallback
	}

	known := make(map[string]bool, len(roster))
	for _, a := range roster {
		known[strings.ToLower(a.Key)] = true
	}

	if decision.Everyone {
		all := make([]RouteTarget, len(roster))
		for i, a := range roster {
			all[i] = RouteTarget{Key: a.Key}
		}
		decision.Agents = all
		return decision
	}

	var valid []RouteTarget
	seen := make(map[string]bool)
	for _, t := range decision.Agents {
		key := strings.ToLower(strings.TrimSpace(t.Key))
		if !known[key] || seen[key] {
			continue
		}
		seen[key] = true
		valid = append(valid, RouteTarget{Key: key, Instruction: t.Instruction})
		if len(valid) == maxAgentsPerRound {
			break
		}
	}
	if len(valid) == 0 {
		return fallback
	}
	decision.Agents = valid
	return decision
}

// EvalDecision is the manager's binary continue answer after a round.
type EvalDecision struct {
	Continue bool `json:"continue"`
}

// ParseEvalDecision interprets raw manager output as a continue decision.
// Any parse or validation failure defaults to continue=false: the loop must
// never fail open into unbounded continuation.
func ParseEvalDecision(raw string) EvalDecision {
	var decision EvalDecision
	if !util.DecodeInto(raw, &decision) {
		return EvalDecision{Continue: false}
	}
	return decision
}
