package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/tool"
)

func testRoom(mode core.Mode) *core.Room {
	return &core.Room{
		ID:   "room-1",
		Mode: mode,
		Goal: "ship the feature",
		Roster: []core.AgentDef{
			{Key: "architect", ModelAlias: "fast", Position: 0},
			{Key: "critic", ModelAlias: "fast", Position: 1},
			{Key: "writer", ModelAlias: "fast", Position: 2},
		},
	}
}

func TestParseMentions_FirstMentionOrder(t *testing.T) {
	room := testRoom(core.ModeManual)
	got := ParseMentions("@critic please check what @architect said, @critic", room.Roster)
	require.Len(t, got, 2)
	assert.Equal(t, "critic", got[0].Key)
	assert.Equal(t, "architect", got[1].Key)
}

func TestParseMentions_CaseInsensitiveAndUnknown(t *testing.T) {
	room := testRoom(core.ModeManual)
	got := ParseMentions("@Architect and @nobody", room.Roster)
	require.Len(t, got, 1)
	assert.Equal(t, "architect", got[0].Key)
}

func TestResolveManual_NoValidTags(t *testing.T) {
	_, err := Resolve(core.ModeManual, "please help with this", testRoom(core.ModeManual))
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, core.ReasonNoValidTags, ve.Reason)
}

func TestResolveManual_UnknownTagOnly(t *testing.T) {
	_, err := Resolve(core.ModeManual, "@stranger do something", testRoom(core.ModeManual))
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, core.ReasonNoValidTags, ve.Reason)
}

func TestResolveManual_SingleTag(t *testing.T) {
	plan, err := Resolve(core.ModeManual, "@writer draft the intro", testRoom(core.ModeManual))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "writer", plan.Steps[0].Agent.Key)
	assert.False(t, plan.Escalated)
}

func TestResolveManual_MultiTagEscalates(t *testing.T) {
	plan, err := Resolve(core.ModeManual, "@architect and @critic weigh in", testRoom(core.ModeManual))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "architect", plan.Steps[0].Agent.Key)
	assert.Equal(t, "critic", plan.Steps[1].Agent.Key)
	assert.True(t, plan.Escalated)
}

func TestResolveRoundtable_PositionOrder(t *testing.T) {
	room := testRoom(core.ModeRoundtable)
	// Shuffle positions: writer should come first now.
	room.Roster[2].Position = -1

	plan, err := Resolve(core.ModeRoundtable, "no tags here", room)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "writer", plan.Steps[0].Agent.Key)
	assert.Equal(t, "architect", plan.Steps[1].Agent.Key)
	assert.Equal(t, "critic", plan.Steps[2].Agent.Key)
}

func TestResolveRoundtable_MentionMovesToFront(t *testing.T) {
	plan, err := Resolve(core.ModeRoundtable, "@critic take the lead", testRoom(core.ModeRoundtable))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "critic", plan.Steps[0].Agent.Key)
	assert.Equal(t, "architect", plan.Steps[1].Agent.Key)
	assert.Equal(t, "writer", plan.Steps[2].Agent.Key)
}

func TestResolveRoundtable_EmptyRoster(t *testing.T) {
	room := &core.Room{ID: "empty", Mode: core.ModeRoundtable}
	_, err := Resolve(core.ModeRoundtable, "hello", room)
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, core.ReasonEmptyRoster, ve.Reason)
}

func TestResolveOrchestrator_MissingGoal(t *testing.T) {
	room := testRoom(core.ModeOrchestrator)
	room.Goal = "   "
	_, err := Resolve(core.ModeOrchestrator, "hello", room)
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, core.ReasonMissingRoomGoal, ve.Reason)
}

func TestResolveOrchestrator_NoSteps(t *testing.T) {
	plan, err := Resolve(core.ModeOrchestrator, "hello", testRoom(core.ModeOrchestrator))
	require.NoError(t, err)
	assert.True(t, plan.Orchestrated)
	assert.Empty(t, plan.Steps)
}

func TestResolve_UnsupportedMode(t *testing.T) {
	_, err := Resolve(core.Mode("debate"), "hello", testRoom(core.ModeManual))
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, core.ReasonUnsupportedMode, ve.Reason)
}

func TestNeedsTools(t *testing.T) {
	registry := tool.NewRegistry(tool.NewFunc("search", "web search", struct{}{},
		func(ctx context.Context, args map[string]any) (*tool.Result, error) {
			return &tool.Result{Text: "ok"}, nil
		}))

	room := testRoom(core.ModeManual)
	room.Roster[1].ToolGrants = []string{"search"}

	withCritic, err := Resolve(core.ModeManual, "@critic check this", room)
	require.NoError(t, err)
	assert.True(t, NeedsTools(withCritic, room, registry))

	withoutCritic, err := Resolve(core.ModeManual, "@writer draft", room)
	require.NoError(t, err)
	assert.False(t, NeedsTools(withoutCritic, room, registry))

	orch, err := Resolve(core.ModeOrchestrator, "anything", testRoomWithGrants())
	require.NoError(t, err)
	assert.True(t, NeedsTools(orch, testRoomWithGrants(), registry))
}

func testRoomWithGrants() *core.Room {
	room := testRoom(core.ModeOrchestrator)
	room.Roster[0].ToolGrants = []string{"search"}
	return room
}
