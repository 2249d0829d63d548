package executor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/orchestrate"
)

func TestComposeDirect(t *testing.T) {
	single := []invocationResult{{AgentKey: "architect", Text: "only answer"}}
	assert.Equal(t, "only answer", composeDirect(single))

	mixed := []invocationResult{
		{AgentKey: "first", Text: "one"},
		{AgentKey: "second", Err: errors.New("provider down")},
		{AgentKey: "third", Text: "three"},
	}
	got := composeDirect(mixed)
	assert.Equal(t, "[first]\none\n\n[second]\n(failed: provider down)\n\n[third]\nthree", got)
}

func TestComposeOrchestrated_RoundsThenSynthesis(t *testing.T) {
	expert := core.AgentDef{Key: "expert"}
	critic := core.AgentDef{Key: "critic"}
	outcome := &orchestrate.Outcome{
		Rounds: [][]orchestrate.RoundOutput{
			{
				{Round: 1, Agent: expert, Text: "first look"},
				{Round: 1, Agent: critic, Err: errors.New("boom")},
			},
			{
				{Round: 2, Agent: expert, Text: "deeper dive"},
			},
		},
		Synthesis: "final verdict",
	}

	got := composeOrchestrated(outcome)
	assert.Equal(t,
		"[round 1 / expert]\nfirst look\n\n[round 2 / expert]\ndeeper dive\n\n[synthesis]\nfinal verdict",
		got)
}

func TestComposeOrchestrated_NoSynthesisKeepsRoundRecord(t *testing.T) {
	outcome := &orchestrate.Outcome{
		Rounds: [][]orchestrate.RoundOutput{
			{{Round: 1, Agent: core.AgentDef{Key: "expert"}, Text: "partial finding"}},
		},
		SynthesisErr: errors.New("manager down"),
	}
	assert.Equal(t, "[round 1 / expert]\npartial finding", composeOrchestrated(outcome))
}
