package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/internal/testutil"
	"github.com/parleyhq/parley/ledger"
)

func TestExecute_ManualSingleTag(t *testing.T) {
	fx := testutil.NewFixture()
	fx.Mock("fast").EnqueueText("architecture looks fine")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("architect", "fast").
		Agent("critic", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	result, err := exec.Execute(context.Background(), Request{
		SessionID: sessionID,
		UserText:  "@architect review the plan",
	})
	require.NoError(t, err)

	assert.Equal(t, core.TurnCompleted, result.Status)
	assert.Equal(t, 0, result.TurnIndex)
	assert.Equal(t, "architecture looks fine", result.OutputText)
	assert.Equal(t, int64(1), result.Credits)
	assert.Equal(t, int64(499), result.Balance)

	history, err := fx.Store.History(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	msgs := history[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "architect", msgs[1].AgentKey)
}

func TestExecute_ManualNoTagRejected(t *testing.T) {
	fx := testutil.NewFixture()
	mock := fx.Mock("fast")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("architect", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	_, err := exec.Execute(context.Background(), Request{
		SessionID: sessionID,
		UserText:  "please just help me",
	})

	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, core.ReasonNoValidTags, ve.Reason)

	// Rejection means zero side effects: no model call, no turn, no debit.
	assert.Zero(t, mock.Calls())
	history, _ := fx.Store.History(context.Background(), sessionID)
	assert.Empty(t, history)
	balance, _ := fx.Store.Balance(context.Background(), "user-1")
	assert.Equal(t, int64(500), balance)
}

func TestExecute_ManualMultiTagEscalatesWithCarryForward(t *testing.T) {
	fx := testutil.NewFixture()
	fx.Mock("model-a").EnqueueText("alpha perspective")
	fx.Mock("model-b") // unscripted: echoes the last prompt message
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("alpha", "model-a").
		Agent("beta", "model-b").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	result, err := exec.Execute(context.Background(), Request{
		SessionID: sessionID,
		UserText:  "@alpha then @beta weigh in",
	})
	require.NoError(t, err)

	assert.Equal(t, core.TurnCompleted, result.Status)
	assert.Contains(t, result.OutputText, "[alpha]")
	assert.Contains(t, result.OutputText, "[beta]")
	// The second agent saw the first agent's same-turn output.
	assert.Contains(t, result.OutputText, "Mock response to: alpha perspective")
	assert.Equal(t, int64(2), result.Credits)
}

func TestExecute_RoundtablePartialOnAgentFailure(t *testing.T) {
	fx := testutil.NewFixture()
	fx.Mock("model-a").EnqueueText("first answer")
	fx.Mock("model-b").FailWith(errors.New("provider down"))
	fx.Mock("model-c").EnqueueText("third answer")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeRoundtable).
		Agent("first", "model-a").
		Agent("second", "model-b").
		Agent("third", "model-c").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	result, err := exec.Execute(context.Background(), Request{
		SessionID: sessionID,
		UserText:  "everyone please comment",
	})
	require.NoError(t, err)

	assert.Equal(t, core.TurnPartial, result.Status)
	assert.Contains(t, result.OutputText, "first answer")
	assert.Contains(t, result.OutputText, "third answer")
	assert.Contains(t, result.OutputText, "failed")

	history, err := fx.Store.History(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	var errMsgs, agentMsgs int
	for _, m := range history[0].Messages {
		if m.Role != core.RoleAssistant {
			continue
		}
		if m.IsError() {
			errMsgs++
		} else {
			agentMsgs++
		}
	}
	assert.Equal(t, 1, errMsgs)
	assert.Equal(t, 2, agentMsgs)

	// Only the two successful calls are billed.
	assert.Equal(t, int64(2), result.Credits)
	assert.Equal(t, int64(498), result.Balance)
}

func TestExecute_OrchestratorDepthCap(t *testing.T) {
	fx := testutil.NewFixture()
	specialist := fx.Mock("fast")
	specialist.EnqueueText("round one finding")
	specialist.EnqueueText("round two finding")
	specialist.EnqueueText("round three finding")

	manager := fx.Mock("manager-model")
	// Route, evaluate, route, evaluate, route (final round skips the
	// evaluation), then synthesis. The manager always wants to continue;
	// the depth cap ends the loop.
	manager.EnqueueText(`{"agents":[{"key":"expert"}]}`)
	manager.EnqueueText(`{"continue":true}`)
	manager.EnqueueText(`{"agents":[{"key":"expert"}]}`)
	manager.EnqueueText(`{"continue":true}`)
	manager.EnqueueText(`{"agents":[{"key":"expert"}]}`)
	manager.EnqueueText("the synthesized answer")

	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeOrchestrator).
		Goal("resolve the question").
		Manager("manager-model").
		Agent("expert", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	result, err := exec.Execute(context.Background(), Request{
		SessionID: sessionID,
		UserText:  "dig into this",
	})
	require.NoError(t, err)

	assert.Equal(t, core.TurnCompleted, result.Status)
	// Output is the full round record followed by the synthesis block.
	assert.Contains(t, result.OutputText, "[round 1 / expert]\nround one finding")
	assert.Contains(t, result.OutputText, "[round 2 / expert]\nround two finding")
	assert.Contains(t, result.OutputText, "[round 3 / expert]\nround three finding")
	assert.True(t, strings.HasSuffix(result.OutputText, "[synthesis]\nthe synthesized answer"))
	assert.Equal(t, 3, specialist.Calls())
	assert.Equal(t, 6, manager.Calls())

	// Every model call is billed: 3 specialist + 6 manager, 1 credit each.
	assert.Equal(t, int64(9), result.Credits)

	history, err := fx.Store.History(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	var rounds []int
	var managerMsgs int
	for _, m := range history[0].Messages {
		if m.Role != core.RoleAssistant {
			continue
		}
		if m.AgentKey == "manager" {
			managerMsgs++
			continue
		}
		rounds = append(rounds, m.Round)
	}
	assert.Equal(t, []int{1, 2, 3}, rounds)
	assert.Equal(t, 1, managerMsgs)
}

func TestExecute_OrchestratorManagerUsageAttribution(t *testing.T) {
	fx := testutil.NewFixture()
	fx.Mock("fast").EnqueueText("specialist output")
	manager := fx.Mock("manager-model")
	manager.EnqueueText(`{"agents":[{"key":"expert"}]}`)
	manager.EnqueueText(`{"continue":false}`)
	manager.EnqueueText("done")

	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeOrchestrator).
		Goal("answer").
		Manager("manager-model").
		Agent("expert", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	result, err := exec.Execute(context.Background(), Request{SessionID: sessionID, UserText: "go"})
	require.NoError(t, err)

	summary, err := fx.Store.UsageSummary(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary["manager"])
	assert.Equal(t, int64(1), summary["expert"])
	assert.Equal(t, int64(4), result.Credits)
}

func TestExecute_OrchestratorMissingGoalRejected(t *testing.T) {
	fx := testutil.NewFixture()
	fx.Mock("fast")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeOrchestrator).
		Agent("expert", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	_, err := exec.Execute(context.Background(), Request{SessionID: sessionID, UserText: "go"})

	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, core.ReasonMissingRoomGoal, ve.Reason)
}

func TestExecute_BudgetRejectionIssuesNoModelCalls(t *testing.T) {
	fx := testutil.NewFixture()
	mock := fx.Mock("fast") // 8192 token context window
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("architect", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	_, err := exec.Execute(context.Background(), Request{
		SessionID: sessionID,
		UserText:  "@architect " + strings.Repeat("x", 50_000),
	})

	var be *core.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Zero(t, mock.Calls())

	history, _ := fx.Store.History(context.Background(), sessionID)
	assert.Empty(t, history)
	balance, _ := fx.Store.Balance(context.Background(), "user-1")
	assert.Equal(t, int64(500), balance)
}

func TestExecute_ZeroBalanceRejectedWhenEnforced(t *testing.T) {
	fx := testutil.NewFixture()
	mock := fx.Mock("fast")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("architect", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 0)

	exec := New(fx.Store, fx.Models)
	_, err := exec.Execute(context.Background(), Request{
		SessionID: sessionID,
		UserText:  "@architect hello",
	})

	var ie *core.InsufficientBalanceError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "user-1", ie.UserID)
	assert.Zero(t, mock.Calls())
}

func TestExecute_ZeroBalanceAllowedWhenEnforcementOff(t *testing.T) {
	fx := testutil.NewFixture()
	fx.Mock("fast").EnqueueText("served anyway")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("architect", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 0)

	policy := ledger.NewPolicy(ledger.NewStaticCatalog("v1", nil, 1.0), ledger.WithEnforcement(false))
	exec := New(fx.Store, fx.Models, func(o *Options) { o.Policy = policy })

	result, err := exec.Execute(context.Background(), Request{
		SessionID: sessionID,
		UserText:  "@architect hello",
	})
	require.NoError(t, err)
	assert.Equal(t, core.TurnCompleted, result.Status)
	assert.Equal(t, int64(-1), result.Balance)
	assert.True(t, result.LowBalance)
}

func TestExecute_ModeOverrideDoesNotPersist(t *testing.T) {
	fx := testutil.NewFixture()
	fx.Mock("fast").EnqueueText("roundtable answer")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("solo", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	result, err := exec.Execute(context.Background(), Request{
		SessionID:    sessionID,
		UserText:     "no tags at all",
		ModeOverride: core.ModeRoundtable,
	})
	require.NoError(t, err)
	assert.Equal(t, core.ModeRoundtable, result.Mode)

	stored, err := fx.Store.GetRoom(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, core.ModeManual, stored.Mode)
}

func TestExecute_StandaloneSession(t *testing.T) {
	fx := testutil.NewFixture()
	fx.Mock("fast").EnqueueText("standalone reply")
	agent := core.AgentDef{Key: "helper", Name: "helper", ModelAlias: "fast"}
	sessionID := fx.AgentSession(agent, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	result, err := exec.Execute(context.Background(), Request{
		SessionID: sessionID,
		UserText:  "no tag needed here",
	})
	require.NoError(t, err)
	assert.Equal(t, core.TurnCompleted, result.Status)
	assert.Equal(t, "standalone reply", result.OutputText)
}

func TestExecute_TurnIndexMonotonic(t *testing.T) {
	fx := testutil.NewFixture()
	mock := fx.Mock("fast")
	mock.EnqueueText("one")
	mock.EnqueueText("two")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("architect", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	first, err := exec.Execute(context.Background(), Request{SessionID: sessionID, UserText: "@architect one"})
	require.NoError(t, err)
	second, err := exec.Execute(context.Background(), Request{SessionID: sessionID, UserText: "@architect two"})
	require.NoError(t, err)

	assert.Equal(t, 0, first.TurnIndex)
	assert.Equal(t, 1, second.TurnIndex)
}

func TestRun_EventSequenceStreaming(t *testing.T) {
	fx := testutil.NewFixture()
	fx.Mock("fast").EnqueueText("hi")
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("architect", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	events, errs := exec.Run(context.Background(), Request{
		SessionID: sessionID,
		UserText:  "@architect hello",
		Stream:    true,
	})

	var kinds []core.EventKind
	var chunkText strings.Builder
	for ev := range events {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == core.EventChunk {
			chunkText.WriteString(ev.Text)
		}
	}
	require.NoError(t, <-errs)

	require.NotEmpty(t, kinds)
	assert.Equal(t, core.EventRoundStart, kinds[0])
	assert.Equal(t, core.EventAgentStart, kinds[1])
	assert.Equal(t, core.EventDone, kinds[len(kinds)-1])
	assert.Equal(t, "hi", chunkText.String())

	// Chunks concatenate to exactly the persisted output.
	history, err := fx.Store.History(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Turn.OutputText)
}

func TestExecute_DigestPersistsAsSystemMessage(t *testing.T) {
	fx := testutil.NewFixture()
	mock := fx.Mock("fast")
	for i := 0; i < 10; i++ {
		mock.EnqueueText("answer")
	}
	room := testutil.NewRoomBuilder("room-1").
		Mode(core.ModeManual).
		Agent("architect", "fast").
		Build()
	sessionID := fx.RoomSession(room, "user-1", 500)

	exec := New(fx.Store, fx.Models)
	for i := 0; i < 10; i++ {
		_, err := exec.Execute(context.Background(), Request{
			SessionID: sessionID,
			UserText:  "@architect question with some sentences to give the digest material",
		})
		require.NoError(t, err)
	}

	history, err := fx.Store.History(context.Background(), sessionID)
	require.NoError(t, err)

	found := false
	for _, tr := range history {
		for _, m := range tr.Messages {
			if m.Role == core.RoleSystem && strings.HasPrefix(m.Text, "[conversation digest]") {
				found = true
			}
		}
	}
	assert.True(t, found, "a digest system message should have been persisted")
}
