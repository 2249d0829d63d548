package core

import "fmt"

// Mode selects the collaboration strategy a room uses to answer a turn.
type Mode string

const (
	// ModeManual invokes only the agents @-mentioned in the user message.
	ModeManual Mode = "manual"
	// ModeRoundtable invokes the full roster in position order, each agent
	// seeing the outputs of agents earlier in the same turn.
	ModeRoundtable Mode = "roundtable"
	// ModeOrchestrator delegates agent selection to a manager model across
	// bounded consultation rounds followed by a synthesis step.
	ModeOrchestrator Mode = "orchestrator"
)

// Valid reports whether m is one of the supported collaboration modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeManual, ModeRoundtable, ModeOrchestrator:
		return true
	}
	return false
}

// AgentDef describes one configured agent: identity, model binding, prompt
// and tool grants. Definitions are read-only inputs supplied by the room
// store; the engine never mutates them.
type AgentDef struct {
	Key          string   `json:"key" yaml:"key"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description" yaml:"description"`
	ModelAlias   string   `json:"model_alias" yaml:"model_alias"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt"`
	ToolGrants   []string `json:"tool_grants,omitempty" yaml:"tool_grants,omitempty"`
	Position     int      `json:"position" yaml:"position"`
}

// HasGrant reports whether the agent is allowed to invoke the named tool.
func (a AgentDef) HasGrant(tool string) bool {
	for _, g := range a.ToolGrants {
		if g == tool {
			return true
		}
	}
	return false
}

// Room groups a roster of agents under one collaboration mode. Goal is the
// shared objective handed to the manager model in orchestrator mode.
type Room struct {
	ID                string     `json:"id" yaml:"id"`
	Name              string     `json:"name" yaml:"name"`
	Goal              string     `json:"goal" yaml:"goal"`
	Mode              Mode       `json:"mode" yaml:"mode"`
	ManagerModelAlias string     `json:"manager_model_alias" yaml:"manager_model_alias"`
	Roster            []AgentDef `json:"roster" yaml:"roster"`
}

// Agent returns the roster entry with the given key, or false if absent.
func (r Room) Agent(key string) (AgentDef, bool) {
	for _, a := range r.Roster {
		if a.Key == key {
			return a, true
		}
	}
	return AgentDef{}, false
}

// OrderedRoster returns the roster sorted by configured position, stable for
// equal positions. The receiver's slice is not mutated.
func (r Room) OrderedRoster() []AgentDef {
	out := make([]AgentDef, len(r.Roster))
	copy(out, r.Roster)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Position < out[j-1].Position; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Validate checks structural room invariants before a turn is accepted.
func (r Room) Validate() error {
	if !r.Mode.Valid() {
		return fmt.Errorf("room %s: unsupported mode %q", r.ID, r.Mode)
	}
	if len(r.Roster) == 0 {
		return fmt.Errorf("room %s: empty roster", r.ID)
	}
	seen := map[string]bool{}
	for _, a := range r.Roster {
		if a.Key == "" {
			return fmt.Errorf("room %s: agent with empty key", r.ID)
		}
		if seen[a.Key] {
			return fmt.Errorf("room %s: duplicate agent key %q", r.ID, a.Key)
		}
		seen[a.Key] = true
	}
	return nil
}
