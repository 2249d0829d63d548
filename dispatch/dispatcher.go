package dispatch

import (
	"strings"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/tool"
)

// Step is one planned agent invocation.
type Step struct {
	Agent core.AgentDef
	// Instruction optionally tailors the agent's task for this step
	// (orchestrator routing fills this in).
	Instruction string
}

// Plan is the resolved invocation order for one turn.
//
// For direct modes Steps is the full ordered list; Orchestrated plans carry
// no steps because agent selection happens round by round inside the
// orchestrator engine. Escalated marks a manual plan promoted to roundtable
// semantics (same-turn carry-forward) because multiple agents were tagged;
// the persisted room mode is unaffected.
type Plan struct {
	Mode         core.Mode
	Steps        []Step
	Escalated    bool
	Orchestrated bool
}

// Resolve maps (mode, user input, room) to a Plan. It is state-free: the
// same inputs always produce the same plan.
func Resolve(mode core.Mode, userText string, room *core.Room) (*Plan, error) {
	switch mode {
	case core.ModeManual:
		return resolveManual(userText, room)
	case core.ModeRoundtable:
		return resolveRoundtable(userText, room)
	case core.ModeOrchestrator:
		return resolveOrchestrator(room)
	default:
		return nil, core.NewValidationError(core.ReasonUnsupportedMode, "mode %q", mode)
	}
}

// ResolveStandalone plans a single-agent session turn: one step, no tags.
func ResolveStandalone(agent core.AgentDef) *Plan {
	return &Plan{Mode: core.ModeManual, Steps: []Step{{Agent: agent}}}
}

func resolveManual(userText string, room *core.Room) (*Plan, error) {
	tagged := ParseMentions(userText, room.Roster)
	if len(tagged) == 0 {
		return nil, core.NewValidationError(core.ReasonNoValidTags,
			"no @-mentioned agent matches the room roster")
	}
	plan := &Plan{Mode: core.ModeManual}
	for _, a := range tagged {
		plan.Steps = append(plan.Steps, Step{Agent: a})
	}
	// Two or more valid tags take roundtable semantics for this turn only.
	plan.Escalated = len(tagged) > 1
	return plan, nil
}

func resolveRoundtable(userText string, room *core.Room) (*Plan, error) {
	if len(room.Roster) == 0 {
		return nil, core.NewValidationError(core.ReasonEmptyRoster, "room %s has no assigned agents", room.ID)
	}
	ordered := room.OrderedRoster()

	// An explicitly mentioned agent moves to the front of the fixed order.
	if tagged := ParseMentions(userText, room.Roster); len(tagged) > 0 {
		front := tagged[0].Key
		reordered := make([]core.AgentDef, 0, len(ordered))
		for _, a := range ordered {
			if a.Key == front {
				reordered = append([]core.AgentDef{a}, reordered...)
			} else {
				reordered = append(reordered, a)
			}
		}
		ordered = reordered
	}

	plan := &Plan{Mode: core.ModeRoundtable}
	for _, a := range ordered {
		plan.Steps = append(plan.Steps, Step{Agent: a})
	}
	return plan, nil
}

func resolveOrchestrator(room *core.Room) (*Plan, error) {
	if len(room.Roster) == 0 {
		return nil, core.NewValidationError(core.ReasonEmptyRoster, "room %s has no assigned agents", room.ID)
	}
	if strings.TrimSpace(room.Goal) == "" {
		return nil, core.NewValidationError(core.ReasonMissingRoomGoal,
			"orchestrator mode requires a room goal")
	}
	return &Plan{Mode: core.ModeOrchestrator, Orchestrated: true}, nil
}

// NeedsTools reports whether any agent reachable by the plan holds a grant
// for a registered tool. Streaming transports that cannot carry tool
// round-trips use this to reject the request before the first event.
func NeedsTools(plan *Plan, room *core.Room, registry *tool.Registry) bool {
	if registry == nil {
		return false
	}
	if plan.Orchestrated {
		// Any roster agent may be selected by the manager.
		for _, a := range room.Roster {
			if len(registry.Granted(a.ToolGrants)) > 0 {
				return true
			}
		}
		return false
	}
	for _, s := range plan.Steps {
		if len(registry.Granted(s.Agent.ToolGrants)) > 0 {
			return true
		}
	}
	return false
}
